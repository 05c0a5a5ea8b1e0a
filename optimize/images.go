package optimize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Flatten composites img over an opaque canvas of the background colour.
// Grey sources stay grey so they can be embedded as DeviceGray.
func (o *Optimizer) Flatten(img image.Image) image.Image {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	if isGray(img) {
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, &image.Uniform{C: color.GrayModel.Convert(o.config.Background)}, image.Point{}, draw.Src)
		draw.Draw(dst, rect, img, b.Min, draw.Over)
		return dst
	}
	if opaque(img) {
		if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
			return rgba
		}
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, &image.Uniform{C: o.config.Background}, image.Point{}, draw.Src)
	draw.Draw(dst, rect, img, b.Min, draw.Over)
	return dst
}

// Downsample reduces img so that its density over a displayW x displayH
// point box does not exceed MaxPPI, with a 20% tolerance.
func (o *Optimizer) Downsample(img image.Image, displayW, displayH float64) (image.Image, bool) {
	if o.config.MaxPPI <= 0 || displayW <= 0 || displayH <= 0 {
		return img, false
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	// pixels = ppi * points / 72
	maxW := o.config.MaxPPI * displayW / 72.0
	maxH := o.config.MaxPPI * displayH / 72.0
	if float64(w) <= maxW*1.2 && float64(h) <= maxH*1.2 {
		return img, false
	}
	scale := math.Min(maxW/float64(w), maxH/float64(h))
	targetW := max(1, int(math.Round(float64(w)*scale)))
	targetH := max(1, int(math.Round(float64(h)*scale)))

	rect := image.Rect(0, 0, targetW, targetH)
	var dst draw.Image
	if isGray(img) {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
	return dst, true
}

func (o *Optimizer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.config.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
