package jobs

import (
	"errors"
	"fmt"

	"carbon-reports/internal/store"
)

var (
	// ErrInvalidPeriod is returned for a year or month outside the accepted range.
	ErrInvalidPeriod = errors.New("invalid report period")
	// ErrEmptyPeriod is returned when empty periods are rejected and the month has no activities.
	ErrEmptyPeriod = errors.New("no activities in report period")
)

// Kind classifies a failure for callers and logs.
type Kind string

const (
	// KindValidation is bad caller input; nothing was written.
	KindValidation Kind = "validation"
	// KindInfrastructure is a store, network or upload failure.
	KindInfrastructure Kind = "infrastructure"
	// KindContract is a state machine violation, such as completing a job
	// that is not in progress, or addressing an unknown job.
	KindContract Kind = "contract"
)

// Error carries the kind and operation of a failed manager call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, treating unclassified errors as infrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindInfrastructure
	switch {
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrEmptyPeriod):
		kind = KindValidation
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
		kind = KindContract
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
