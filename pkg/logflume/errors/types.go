package errors

import "fmt"

// DestinationError indicates a destination failed to accept a batch.
type DestinationError struct {
	// Destination is the name of the destination that failed.
	Destination string

	// BatchSize is the number of events in the rejected batch.
	BatchSize int

	// Permanent marks failures that retrying cannot fix, such as writing
	// to a closed destination.
	Permanent bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %s: write of %d events failed: %v",
		e.Destination, e.BatchSize, e.Err)
}

// Unwrap returns the underlying error.
func (e *DestinationError) Unwrap() error {
	return e.Err
}

// ExhaustedError indicates all retry attempts for a batch were used up.
// The batch is lost for that destination only; other destinations are
// unaffected.
type ExhaustedError struct {
	// Destination is the name of the destination that gave up.
	Destination string

	// Attempts is the total number of write attempts made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("destination %s: gave up after %d attempts: %v",
		e.Destination, e.Attempts, e.Err)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}
