// Package detecterr defines the error kinds raised across the detection
// core. Kinds are modeled as sentinel-wrapped values rather than a
// panic/exception style, so callers use errors.Is/errors.As the way the
// rest of the codebase does.
package detecterr

import "errors"

// Kind identifies which of the documented error kinds an error carries.
type Kind int

const (
	KindConfiguration Kind = iota
	KindDetectorRecoverable
	KindDetectorFatal
	KindBudgetExceeded
	KindActionPolicyMissing
	KindLearningQueueFull
	KindMaskingFailOpen
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindDetectorRecoverable:
		return "DetectorRecoverable"
	case KindDetectorFatal:
		return "DetectorFatal"
	case KindBudgetExceeded:
		return "BudgetExceeded"
	case KindActionPolicyMissing:
		return "ActionPolicyMissing"
	case KindLearningQueueFull:
		return "LearningQueueFull"
	case KindMaskingFailOpen:
		return "MaskingFailOpen"
	default:
		return "Unknown"
	}
}

// Error is a typed error carrying a Kind plus context.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " [" + e.Op + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, detecterr.KindX) style checks work via a
// sentinel value comparison on Kind rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Sentinels for errors.Is comparisons against a bare kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrDetectorFatal     = &Error{Kind: KindDetectorFatal}
	ErrBudgetExceeded    = &Error{Kind: KindBudgetExceeded}
	ErrActionPolicyMiss  = &Error{Kind: KindActionPolicyMissing}
	ErrLearningQueueFull = &Error{Kind: KindLearningQueueFull}
	ErrMaskingFailOpen   = &Error{Kind: KindMaskingFailOpen}
)

// Of reports whether err carries the given Kind anywhere in its chain.
func Of(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
