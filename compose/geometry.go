package compose

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// PageSize is a page format in PDF points.
type PageSize struct {
	Name   string
	Width  float64
	Height float64
}

var (
	A4     = PageSize{Name: "a4", Width: 595.28, Height: 841.89}
	A3     = PageSize{Name: "a3", Width: 841.89, Height: 1190.55}
	A5     = PageSize{Name: "a5", Width: 419.53, Height: 595.28}
	Letter = PageSize{Name: "letter", Width: 612, Height: 792}
	Legal  = PageSize{Name: "legal", Width: 612, Height: 1008}
)

var pageSizes = map[string]PageSize{
	A4.Name:     A4,
	A3.Name:     A3,
	A5.Name:     A5,
	Letter.Name: Letter,
	Legal.Name:  Legal,
}

// LookupPageSize resolves a page format by name, case-insensitively.
func LookupPageSize(name string) (PageSize, error) {
	if ps, ok := pageSizes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ps, nil
	}
	return PageSize{}, fmt.Errorf("unknown page size %q", name)
}

// PageSizeNames lists the built-in formats in sorted order.
func PageSizeNames() []string {
	names := make([]string, 0, len(pageSizes))
	for n := range pageSizes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type Orientation int

const (
	Portrait Orientation = iota
	Landscape
	// Auto turns each page to match the aspect ratio of its image.
	Auto
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "portrait"
	case Landscape:
		return "landscape"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "portrait":
		return Portrait, nil
	case "landscape":
		return Landscape, nil
	case "auto":
		return Auto, nil
	}
	return Portrait, fmt.Errorf("unknown orientation %q", s)
}

// Oriented returns the page turned for o. imgW and imgH are only consulted
// for Auto.
func (p PageSize) Oriented(o Orientation, imgW, imgH int) PageSize {
	short, long := math.Min(p.Width, p.Height), math.Max(p.Width, p.Height)
	landscape := o == Landscape || (o == Auto && imgW > imgH)
	if landscape {
		return PageSize{Name: p.Name, Width: long, Height: short}
	}
	return PageSize{Name: p.Name, Width: short, Height: long}
}

// ScaleMode selects how an image is fitted onto its page.
type ScaleMode int

const (
	// Contain scales the image to be fully visible on the page.
	Contain ScaleMode = iota
	// Cover scales the image to cover the page; overflow is clipped.
	Cover
)

func (m ScaleMode) String() string {
	switch m {
	case Contain:
		return "contain"
	case Cover:
		return "cover"
	}
	return fmt.Sprintf("scale(%d)", int(m))
}

// ParseScaleMode accepts contain/cover and the fit/fill synonyms.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contain", "fit":
		return Contain, nil
	case "cover", "fill":
		return Cover, nil
	}
	return Contain, fmt.Errorf("unknown scale mode %q", s)
}

// Placement is the image rectangle on the page in points, origin at the
// lower-left corner.
type Placement struct {
	X, Y          float64
	Width, Height float64
}

// Place fits an imgW x imgH image on page and centers it. With Contain the
// margin shrinks the available box on every side; Cover always fills the
// whole page.
func Place(imgW, imgH float64, page PageSize, mode ScaleMode, margin float64) Placement {
	if imgW <= 0 || imgH <= 0 || page.Width <= 0 || page.Height <= 0 {
		return Placement{}
	}
	availW, availH := page.Width, page.Height
	if mode == Contain && margin > 0 && 2*margin < page.Width && 2*margin < page.Height {
		availW -= 2 * margin
		availH -= 2 * margin
	}
	rw, rh := availW/imgW, availH/imgH
	ratio := math.Min(rw, rh)
	if mode == Cover {
		ratio = math.Max(rw, rh)
	}
	w, h := imgW*ratio, imgH*ratio
	return Placement{
		X:      (page.Width - w) / 2,
		Y:      (page.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}
