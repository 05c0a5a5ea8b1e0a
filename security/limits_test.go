package security

import (
	"errors"
	"testing"
)

func TestValidateImageBounds(t *testing.T) {
	l := DefaultLimits()
	cases := []struct {
		w, h    int
		wantErr bool
		limit   bool
	}{
		{640, 480, false, false},
		{0, 10, true, false},
		{10, -1, true, false},
		{40000, 10, true, true},
		{10000, 10000, true, true},
		{8192, 8192, false, false},
	}
	for _, tc := range cases {
		err := l.ValidateImageBounds(tc.w, tc.h)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%dx%d: err=%v, wantErr=%v", tc.w, tc.h, err, tc.wantErr)
		}
		if tc.limit && !errors.Is(err, ErrLimitExceeded) {
			t.Fatalf("%dx%d: expected ErrLimitExceeded, got %v", tc.w, tc.h, err)
		}
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	var l Limits
	if err := l.ValidateImageBounds(100000, 100000); err != nil {
		t.Fatalf("zero limits should not cap dimensions: %v", err)
	}
	if err := l.ValidateFileSize(1 << 40); err != nil {
		t.Fatalf("zero limits should not cap size: %v", err)
	}
	if err := l.ValidateImageCount(1 << 20); err != nil {
		t.Fatalf("zero limits should not cap count: %v", err)
	}
}

func TestFileSizeAndCount(t *testing.T) {
	l := DefaultLimits()
	if err := l.ValidateFileSize(l.MaxFileSize + 1); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected size violation, got %v", err)
	}
	if err := l.ValidateImageCount(l.MaxImages); err != nil {
		t.Fatalf("count at limit should pass: %v", err)
	}
	if err := l.ValidateImageCount(l.MaxImages + 1); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected count violation, got %v", err)
	}
}
