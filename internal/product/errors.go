package product

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthenticated means no valid caller identity was supplied. Clients
// should re-authenticate rather than retry.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrUnavailable wraps persistence-layer transport failures. Distinct from
// ErrUnauthenticated so callers can retry instead of forcing a re-login.
var ErrUnavailable = errors.New("storage unavailable")

// ValidationError reports bad input shape, surfaced directly to the caller
// for correction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError means an identical product record already exists for this
// owner. It carries the conflicting name and date so the caller can suggest
// updating the quantity instead.
type DuplicateError struct {
	Name       string
	ExpiryDate time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate product: %q expiring on %s already exists; update the quantity instead of adding a new entry",
		e.Name, e.ExpiryDate.Format("2006-01-02"))
}
