package recovery

import "fmt"

// Strategy decides what happens when one image of a batch fails.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location identifies the failing input.
type Location struct {
	Index     int
	Name      string
	Component string
}

func (l Location) String() string {
	if l.Name == "" {
		return fmt.Sprintf("[%s] image %d", l.Component, l.Index+1)
	}
	return fmt.Sprintf("[%s] image %d (%s)", l.Component, l.Index+1, l.Name)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionWarn:
		return "warn"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Context interface{ Done() <-chan struct{} }
