package sandbox

import (
	"errors"
	"fmt"
)

var (
	ErrInstructionLimit   = errors.New("instruction limit reached")
	ErrOutOfMemory        = errors.New("not enough memory")
	ErrBytecode           = errors.New("for security, we do not evaluate Lua bytecode")
	ErrSessionClosed      = errors.New("sandbox session is closed")
	ErrInvalidEnvironment = errors.New("environment script must return a table")
	ErrInvalidConfig      = errors.New("invalid sandbox configuration")
)

// Kind classifies sandbox failures.
type Kind int

const (
	KindConfiguration Kind = iota
	KindResource
	KindValidation
	KindEngine
	KindInternal
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindValidation:
		return "validation"
	case KindEngine:
		return "engine"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every failing sandbox operation.
type Error struct {
	Kind   Kind
	Op     string // init, validate, load, environment, run
	Path   string // script involved, if any
	Detail string // engine diagnostic, if any
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of a sandbox error, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindInternal
}

func configError(err error) error {
	return &Error{Kind: KindConfiguration, Op: "init", Err: fmt.Errorf("%w: %w", ErrInvalidConfig, err)}
}
