package exchange

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by adapters for operations the venue cannot
// perform, e.g. SetLeverage on a spot-only venue. Callers treat it as
// non-fatal.
var ErrUnsupported = errors.New("operation not supported by venue")

// VenueError wraps a transport, auth, or API failure from a venue so the
// coordinator can surface "leg placement failed" with the venue attached.
type VenueError struct {
	Venue string
	Op    string
	Err   error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// venueErr is a small constructor used by adapters.
func venueErr(venue, op string, err error) error {
	return &VenueError{Venue: venue, Op: op, Err: err}
}

// venueErrf wraps a formatted failure description.
func venueErrf(venue, op, format string, args ...any) error {
	return &VenueError{Venue: venue, Op: op, Err: fmt.Errorf(format, args...)}
}
