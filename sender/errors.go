package sender

import (
	"fmt"

	"go.uber.org/multierr"
)

// TransportError is returned when every attempt to send a request failed.
// Err holds the failure of each attempt.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Errors returns the failure of every attempt, oldest first.
func (e *TransportError) Errors() []error {
	return multierr.Errors(e.Err)
}

// InvalidRedirectLocationError reports a Location header that could not be
// parsed as a URI, even leniently.
type InvalidRedirectLocationError struct {
	Location string
	Err      error
}

func (e *InvalidRedirectLocationError) Error() string {
	return fmt.Sprintf("invalid redirect location %q: %v", e.Location, e.Err)
}

func (e *InvalidRedirectLocationError) Unwrap() error {
	return e.Err
}
