package download

import (
	"errors"
	"fmt"
)

// ErrCancelled signals that a running transfer observed its registry entry
// disappear and aborted. It is a normal terminal outcome, not a failure.
var ErrCancelled = errors.New("download cancelled")

// ValidationError represents invalid caller input, reported synchronously at
// start time and never from inside a running transfer.
type ValidationError struct {
	Field  string // the offending input field
	Reason string // human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SourceUnavailableError represents an unreachable or missing byte source:
// a transport error, a non-success remote status, or an absent local file.
// It is caught inside the transfer task and recorded on the failed record.
type SourceUnavailableError struct {
	Locator    string // the path or URL that could not be read
	StatusCode int    // HTTP status, 0 for non-HTTP failures
	Reason     string
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source unavailable (HTTP %d): %s", e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("source unavailable: %s", e.Reason)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}
