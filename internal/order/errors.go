package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid order request")
	ErrOutOfStock      = errors.New("out of stock")
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")

	// ErrTransient marks infrastructure failures worth retrying: lock timeouts,
	// lost connections, serialization and commit failures.
	ErrTransient = errors.New("transient infrastructure failure")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

type OutcomeError struct {
	Outcome  Outcome
	sentinel error
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Outcome.Failure, e.Outcome.Reason)
}

func (e *OutcomeError) Unwrap() error { return e.sentinel }
