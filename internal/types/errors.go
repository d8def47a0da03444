package types

import "errors"

// Domain specific errors surfaced by repositories and services.
var (
	ErrNotFound    = errors.New("requested item not found")
	ErrConflict    = errors.New("item already exists or conflict")
	ErrBadRequest  = errors.New("bad request")
	ErrUnavailable = errors.New("upstream service unavailable")
)
