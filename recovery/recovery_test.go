package recovery_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pic2pdf/recovery"
)

func TestRecoveryStrategies(t *testing.T) {
	failure := errors.New("unexpected EOF")
	loc := recovery.Location{Index: 1, Name: "beach.png", Component: "compose"}

	t.Run("StrictStrategy", func(t *testing.T) {
		if got := recovery.NewStrictStrategy().OnError(context.Background(), failure, loc); got != recovery.ActionFail {
			t.Fatalf("expected fail, got %s", got)
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		rec := recovery.NewLenientStrategy()
		if got := rec.OnError(context.Background(), failure, loc); got != recovery.ActionSkip {
			t.Fatalf("expected skip, got %s", got)
		}
		errs := rec.Snapshot()
		if len(errs) != 1 {
			t.Fatalf("expected 1 recorded error, got %d", len(errs))
		}
		if !errors.Is(errs[0], failure) {
			t.Fatalf("recorded error should wrap the cause: %v", errs[0])
		}
		if !strings.Contains(errs[0].Error(), "image 2 (beach.png)") {
			t.Fatalf("recorded error lacks location: %v", errs[0])
		}
	})
}

func TestParse(t *testing.T) {
	for name, lenient := range map[string]bool{"": false, "strict": false, " Lenient ": true} {
		s, err := recovery.Parse(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if _, ok := s.(*recovery.LenientStrategy); ok != lenient {
			t.Fatalf("parse %q returned %T", name, s)
		}
	}
	if _, err := recovery.Parse("forgiving"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
