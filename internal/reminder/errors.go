package reminder

import (
	"errors"
	"fmt"
)

// Validation sentinels. A validation failure never partially schedules.
var (
	ErrMissingEntityID = errors.New("entity id required")
	ErrMissingArrival  = errors.New("arrival time required")
	ErrMissingExpiry   = errors.New("expiry time required")
)

// AdapterError wraps a failure at the OS scheduler boundary.
// The engine never retries these itself; retry policy is the caller's concern.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string { return fmt.Sprintf("os adapter %s: %v", e.Op, e.Err) }
func (e *AdapterError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. The operation's effect must be
// considered not-applied.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
