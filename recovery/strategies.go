package recovery

import (
	"fmt"
	"strings"
	"sync"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy skips failing images and keeps the errors for reporting.
type LenientStrategy struct {
	mu     sync.Mutex
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, fmt.Errorf("%s: %w", location, err))
	return ActionSkip
}

// Snapshot returns a copy of the recorded errors.
func (s *LenientStrategy) Snapshot() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.Errors...)
}

// Parse maps a policy name onto a strategy.
func Parse(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "strict":
		return NewStrictStrategy(), nil
	case "lenient":
		return NewLenientStrategy(), nil
	}
	return nil, fmt.Errorf("unknown recovery policy %q", name)
}
