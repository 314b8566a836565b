package exception

import "errors"

// General errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
)

// Queue and collaborator errors.
var (
	ErrQueueFull       = errors.New("queue: full")
	ErrQueueClosed     = errors.New("queue: closed")
	ErrSinkClosed      = errors.New("sink: closed")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)
