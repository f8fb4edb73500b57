package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInventoryConflict = errors.New("inventory conflict")
	ErrParseFailure      = errors.New("no menu items recognized")
	ErrUpstream          = errors.New("upstream failure")
	ErrInvalidInput      = errors.New("invalid input")
)
