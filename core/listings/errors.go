package listings

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("listing not found")

// ValidationError reports the first rejected field of a listing or a
// browse request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StoreError wraps a failure of the backing database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
