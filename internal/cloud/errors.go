package cloud

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures at the cloud boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindStorage
	KindDeployment
	KindConflict
	KindNotFound
	KindInvocation
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindDeployment:
		return "deployment"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindInvocation:
		return "invocation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrStorage    = errors.New("storage error")
	ErrDeployment = errors.New("deployment error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrInvocation = errors.New("invocation error")
)

var sentinels = map[Kind]error{
	KindStorage:    ErrStorage,
	KindDeployment: ErrDeployment,
	KindConflict:   ErrConflict,
	KindNotFound:   ErrNotFound,
	KindInvocation: ErrInvocation,
}

// Error is returned by every provider operation.
type Error struct {
	Kind   Kind
	Op     string // e.g. "createFunction"
	Target string // path, function name or route
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg += " " + e.Target
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// NewError builds an *Error. A nil err is allowed.
func NewError(kind Kind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, target, format string, args ...any) *Error {
	return NewError(kind, op, target, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap converts a provider error into an *Error of the given kind, unless it
// already is one. Context cancellation and deadlines keep the operation's kind
// and stay matchable with errors.Is.
func Wrap(kind Kind, op, target string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(kind, op, target, fmt.Errorf("provider timeout: %w", err))
	}
	return NewError(kind, op, target, err)
}
