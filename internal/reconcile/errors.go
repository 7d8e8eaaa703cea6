package reconcile

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrStateConflict    = errors.New("state conflict")
	ErrQueueFull        = errors.New("queue full")
)
