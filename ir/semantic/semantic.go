package semantic

import (
	"time"
)

// Document is the high-level representation of a PDF made of image pages.
type Document struct {
	Pages []*Page
	Info  *DocumentInfo
}

// Page represents a single PDF page.
type Page struct {
	Index     int
	MediaBox  Rectangle
	Rotate    int // degrees: 0/90/180/270
	Resources *Resources
	Contents  []ContentStream
}

// Width returns the media box width in points.
func (p *Page) Width() float64 { return p.MediaBox.URX - p.MediaBox.LLX }

// Height returns the media box height in points.
func (p *Page) Height() float64 { return p.MediaBox.URY - p.MediaBox.LLY }

// ContentStream holds decoded operations.
type ContentStream struct {
	Operations []Operation
	RawBytes   []byte
}

// Operation represents a PDF operator and operands.
type Operation struct {
	Operator string
	Operands []Operand
}

// Operand is a type-safe operand value.
type Operand interface {
	operand()
	Type() string
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) operand()     {}
func (NumberOperand) Type() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) operand()     {}
func (NameOperand) Type() string { return "name" }

// Resources holds page resources. Only image XObjects are produced here.
type Resources struct {
	XObjects map[string]XObject
}

// ColorSpace is implemented by the device color spaces images are tagged with.
type ColorSpace interface {
	ColorSpaceName() string
	// Components reports how many color components one pixel carries.
	Components() int
}

type DeviceColorSpace struct {
	Name string
}

func (cs DeviceColorSpace) ColorSpaceName() string { return cs.Name }

func (cs DeviceColorSpace) Components() int {
	switch cs.Name {
	case "DeviceGray":
		return 1
	case "DeviceCMYK":
		return 4
	default:
		return 3
	}
}

var (
	DeviceRGB  = DeviceColorSpace{Name: "DeviceRGB"}
	DeviceGray = DeviceColorSpace{Name: "DeviceGray"}
)

// XObject describes an image external object.
type XObject struct {
	Subtype string // Image
	Width   int
	Height  int
	ColorSpace
	BitsPerComponent int
	Data             []byte
	Filter           string // DCTDecode for JPEG payloads, empty for raw samples
	Interpolate      bool
}

// Image is an alias for XObject for image convenience APIs.
type Image = XObject

// Rectangle represents a PDF rectangle.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

// DocumentInfo mirrors the trailer /Info dictionary.
type DocumentInfo struct {
	Title        string
	Author       string
	Subject      string
	Creator      string
	Producer     string
	Keywords     []string
	CreationDate time.Time
}
