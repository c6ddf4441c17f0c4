package domain

import "errors"

// Rejection is a business-rule refusal: the request was understood and the
// system is healthy, but the operation is not allowed in the current state.
// Callers can act on it; it is never retried automatically. Anything that is
// not a Rejection is an infrastructure failure and means "try again later".
type Rejection struct {
	msg string
}

func (r *Rejection) Error() string { return r.msg }

func reject(msg string) *Rejection { return &Rejection{msg: msg} }

// IsRejection reports whether err (or anything it wraps) is a business
// rejection rather than an infrastructure failure.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// MinPasswordLen is the minimum accepted password length at registration.
const MinPasswordLen = 8

var (
	ErrPasswordTooShort  = reject("password must contain at least 8 characters")
	ErrAlreadyRegistered = reject("trader already registered")
	ErrAlreadyLoggedIn   = reject("trader already logged in")
	ErrNotRegistered     = reject("trader not registered")
	ErrWrongPassword     = reject("wrong password")
	ErrNotLoggedIn       = reject("trader not logged in")

	ErrNoAccount         = reject("no bank account for trader")
	ErrInsufficientFunds = reject("insufficient funds")

	ErrItemNotListed            = reject("item not listed")
	ErrInsufficientStock        = reject("insufficient stock")
	ErrListingOwnershipConflict = reject("listing belongs to another seller")

	ErrDuplicateWish      = reject("wish already placed for this item")
	ErrWishAlreadyClaimed = reject("another trader already holds this wish")

	// ErrConcurrentModification surfaces after the store's bounded retry on
	// version conflicts is exhausted. Retryable by the caller.
	ErrConcurrentModification = reject("listing modified concurrently, retry")
)
