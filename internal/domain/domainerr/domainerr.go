// Package domainerr classifies business-rule failures so transports can map
// them without knowing every sentinel.
package domainerr

import "github.com/go-faster/errors"

// Kind groups business-rule violations.
type Kind int

const (
	// KindUnknown marks errors that are not business-rule violations.
	KindUnknown Kind = iota
	// KindValidation is malformed or out-of-range input.
	KindValidation
	// KindForbidden is an actor not allowed to perform the operation.
	KindForbidden
	// KindConflict is an operation not allowed in the current state.
	KindConflict
	// KindNotFound is a missing entity.
	KindNotFound
	// KindExhausted is a depleted shared resource such as coupon usage.
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is a business-rule violation. Values are declared once as package
// sentinels and compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// New declares a business-rule sentinel.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf reports the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
