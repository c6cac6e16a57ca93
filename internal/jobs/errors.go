package jobs

import "errors"

// Typed errors the HTTP layer maps to status codes: ErrNotFound becomes a
// 404, ErrPrecondition a 412. Everything else is a 500.
var (
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")
)
