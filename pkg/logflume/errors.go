package logflume

import "errors"

// Sentinel errors for pipeline construction and use.
var (
	// ErrInvalidOption indicates an Options field failed validation.
	ErrInvalidOption = errors.New("invalid pipeline option")

	// ErrPipelineClosed indicates the operation arrived after Shutdown.
	ErrPipelineClosed = errors.New("pipeline is closed")

	// ErrNilContext indicates a nil context was passed to a blocking operation.
	ErrNilContext = errors.New("context cannot be nil")
)
