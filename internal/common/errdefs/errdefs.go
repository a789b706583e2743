package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the recognition pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindModelNotLoaded
	KindInvalidImageInput
	KindInferenceFailure
	KindTypstConversionFailure
)

func (k Kind) String() string {
	switch k {
	case KindModelNotLoaded:
		return "model_not_loaded"
	case KindInvalidImageInput:
		return "invalid_image_input"
	case KindInferenceFailure:
		return "inference_failure"
	case KindTypstConversionFailure:
		return "typst_conversion_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrModelNotLoaded         = &Error{Kind: KindModelNotLoaded}
	ErrInvalidImageInput      = &Error{Kind: KindInvalidImageInput}
	ErrInferenceFailure       = &Error{Kind: KindInferenceFailure}
	ErrTypstConversionFailure = &Error{Kind: KindTypstConversionFailure}
)

// Error is a pipeline failure tagged with its kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error of kind k wrapping err.
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Newf is New with a formatted message as the wrapped error.
func Newf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
