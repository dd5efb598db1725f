package quest

import (
	"errors"
	"fmt"
)

// Error kinds, checked with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Error carries the failing operation and its kind.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NotFoundf builds a not-found error for op.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrQuestNotStarted   = &Error{Op: "progress.RecordActivity", Kind: ErrNotFound, Msg: "quest not started"}
	ErrProfileIncomplete = &Error{Op: "questline.Generate", Kind: ErrInvalidState, Msg: "route and class must be selected before generating quests"}
	ErrTrackChanged      = &Error{Op: "progress.RecordActivity", Kind: ErrConcurrentModification, Msg: "attempt difficulty changed during update"}
)

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState reports whether err is a user-correctable precondition failure.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsConflict reports whether err came from a concurrent update of the same attempt.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
