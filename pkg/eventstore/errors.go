package eventstore

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store failures the caller must branch on.
type ErrorCode int

const (
	// CodeNotFound indicates no event exists with the given id.
	CodeNotFound ErrorCode = iota

	// CodeImmutable indicates an attempt to change a processed event.
	CodeImmutable

	// CodeInvalid indicates a malformed event (unknown status, zero paths).
	CodeInvalid

	// CodeIO indicates an underlying storage failure.
	CodeIO
)

// StoreError is a typed error from event store operations.
type StoreError struct {
	Code    ErrorCode
	Message string
	ID      uint64
}

func (e *StoreError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s (event %d)", e.Message, e.ID)
	}
	return e.Message
}

// IsNotFound reports whether err is a StoreError with CodeNotFound.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// IsImmutable reports whether err is a StoreError with CodeImmutable.
func IsImmutable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeImmutable
}
