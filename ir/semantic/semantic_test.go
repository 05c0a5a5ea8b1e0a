package semantic

import "testing"

func TestPageDimensions(t *testing.T) {
	p := &Page{MediaBox: Rectangle{LLX: 10, LLY: 20, URX: 110, URY: 220}}
	if p.Width() != 100 || p.Height() != 200 {
		t.Fatalf("unexpected page size %vx%v", p.Width(), p.Height())
	}
}

func TestDeviceColorSpaceComponents(t *testing.T) {
	tests := []struct {
		cs   DeviceColorSpace
		want int
	}{
		{DeviceGray, 1},
		{DeviceRGB, 3},
		{DeviceColorSpace{Name: "DeviceCMYK"}, 4},
	}
	for _, tt := range tests {
		if got := tt.cs.Components(); got != tt.want {
			t.Errorf("%s components = %d, want %d", tt.cs.Name, got, tt.want)
		}
	}
}

func TestImageAliasCarriesColorSpace(t *testing.T) {
	img := Image{Subtype: "Image", Width: 2, Height: 1, ColorSpace: DeviceGray, BitsPerComponent: 8}
	if img.ColorSpaceName() != "DeviceGray" {
		t.Fatalf("embedded color space not promoted: %q", img.ColorSpaceName())
	}
}
