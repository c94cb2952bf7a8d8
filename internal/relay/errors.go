package relay

import "errors"

// Error classes surfaced by Resolve. Callers branch on these with errors.Is
// to pick a transport status; the concrete cause is wrapped alongside.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")
	ErrInternal   = errors.New("internal error")
)
