package services

import (
	"errors"
	"net/http"
)

// Business-rule failures surfaced verbatim to the caller. Validation
// errors reject before any mutation; consistency violations abort the
// whole operation with no partial effect.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDestinationNotFound  = errors.New("destination not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSameAccount          = errors.New("cannot transfer to the same account")
	ErrLoanNotFound         = errors.New("loan not found")
	ErrLoanAlreadyProcessed = errors.New("loan already processed")
	ErrClientNotFound       = errors.New("client not found")
	ErrAlreadyApproved      = errors.New("client already approved")
	ErrBusy                 = errors.New("busy, please retry")
)

// errVersionConflict marks a lost optimistic-lock race. It is retried
// internally and never surfaced.
var errVersionConflict = errors.New("account version conflict")

// StatusForError maps a service error to the HTTP status the facade
// expects. Unknown errors are treated as internal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrDestinationNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrLoanNotFound),
		errors.Is(err, ErrClientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrSameAccount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrLoanAlreadyProcessed), errors.Is(err, ErrAlreadyApproved):
		return http.StatusConflict
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
