package fulfillment

import "fmt"

// Kind classifies business errors so the HTTP layer can map them to
// status codes without string matching.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindInvalidReference Kind = "invalid_reference"
	KindAlreadyOwned     Kind = "already_owned"
	KindNotFound         Kind = "not_found"
	KindNotEligible      Kind = "not_eligible"
	KindUnauthorized     Kind = "unauthorized"
	KindInternal         Kind = "internal"
)

// Error is a machine-checkable business error. AlreadyOwned errors carry
// the conflicting game ids so the client can drop them from the cart.
type Error struct {
	Kind         Kind
	Message      string
	OwnedGameIDs []int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrKind extracts the Kind from err, or KindInternal for anything that
// is not a business error.
func ErrKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
