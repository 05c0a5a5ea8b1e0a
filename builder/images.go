package builder

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"

	"github.com/wudi/pic2pdf/ir/semantic"
)

// FromJPEG wraps an encoded baseline JPEG as an image XObject. The bytes are
// embedded as-is with the DCTDecode filter; only the header is parsed to
// learn the dimensions and component count.
func FromJPEG(data []byte) (*semantic.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty jpeg payload")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read jpeg header: %w", err)
	}
	var cs semantic.ColorSpace
	switch cfg.ColorModel {
	case color.GrayModel:
		cs = semantic.DeviceGray
	case color.CMYKModel:
		// Adobe CMYK JPEGs are stored inverted; callers re-encode those as RGB.
		return nil, errors.New("cmyk jpeg payloads are not embedded directly")
	default:
		cs = semantic.DeviceRGB
	}
	return &semantic.Image{
		Subtype:          "Image",
		Width:            cfg.Width,
		Height:           cfg.Height,
		ColorSpace:       cs,
		BitsPerComponent: 8,
		Data:             data,
		Filter:           "DCTDecode",
	}, nil
}
