package models

import "errors"

// Domain errors returned by the count engine. Handlers map these onto
// HTTP status codes; workflow code compares with errors.Is.
var (
	ErrAlreadyClaimed         = errors.New("journal already claimed by another counter")
	ErrNotEligible            = errors.New("counter not eligible for this journal")
	ErrNotOwner               = errors.New("journal is not claimed by this counter")
	ErrLineNotOwnedByClaimant = errors.New("line does not belong to a journal claimed by this counter")
	ErrInvalidQuantity        = errors.New("counted quantity must be zero or positive")
	ErrIncompleteLines        = errors.New("journal has uncounted lines")
	ErrInvalidTransition      = errors.New("invalid journal status transition")
	ErrInsufficientAuthority  = errors.New("approver tier below required tier for this journal")
	ErrNotApproved            = errors.New("journal is not approved")
	ErrLeaseExpired           = errors.New("claim lease has expired")
	ErrSkipReasonRequired     = errors.New("skip requires a reason")
)
