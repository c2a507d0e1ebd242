package booking

import (
	"errors"
	"fmt"
)

// Kind classifies why a booking operation failed.  Every error returned
// by this package and by the payment reconciler carries exactly one Kind.
type Kind string

const (
	KindInvalidTransition     Kind = "InvalidTransition"
	KindForbidden             Kind = "Forbidden"
	KindPaymentRequired       Kind = "PaymentRequired"
	KindConflict              Kind = "Conflict"
	KindNotFound              Kind = "NotFound"
	KindInvalidSignature      Kind = "InvalidSignature"
	KindPartialReconciliation Kind = "PartialReconciliation"
	KindInvalidInput          Kind = "InvalidInput"
)

// Sentinels for errors.Is.  An *Error matches the sentinel of its Kind.
var (
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrPaymentRequired       = &Error{Kind: KindPaymentRequired}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidSignature      = &Error{Kind: KindInvalidSignature}
	ErrPartialReconciliation = &Error{Kind: KindPartialReconciliation}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
)

// Error is a classified booking failure.
type Error struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "transition"
	BookingID string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.BookingID != "" {
		s += fmt.Sprintf(" (booking %s)", e.BookingID)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, which lets callers compare
// against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind carried by err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, bookingID, msg string) *Error {
	return &Error{Kind: kind, Op: op, BookingID: bookingID, Msg: msg}
}
