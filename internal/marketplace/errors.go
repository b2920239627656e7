package marketplace

import (
	"github.com/pkg/errors"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotApproved   = errors.New("not approved")
	ErrNotListed     = errors.New("not listed")
	ErrPriceMismatch = errors.New("price mismatch")
)

const (
	ReasonNotOwner    = "Not owner"
	ReasonNotApproved = "Not approved"
	ReasonNotSeller   = "Not seller"
	ReasonNotListed   = "Not listed"
	ReasonWrongPrice  = "Wrong price"
	ReasonOverflow    = "Arithmetic overflow"
)

// RevertError is a rejected precondition. Its message is the stable reason string callers
// match on, and it unwraps to the kind of the rejection.
type RevertError struct {
	Reason string
	Kind   error
}

func (e *RevertError) Error() string {
	return e.Reason
}

func (e *RevertError) Unwrap() error {
	return e.Kind
}

func revert(reason string, kind error) error {
	return &RevertError{Reason: reason, Kind: kind}
}

// Reason returns the revert reason carried by err, or "" when err is not a rejection.
func Reason(err error) string {
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return revertErr.Reason
	}

	return ""
}
