/*
errors.go - Centralized error taxonomy

PURPOSE:
  All error types in one place. Callers classify with errors.Is / errors.As
  or the helpers at the bottom of the file.

PROPAGATION POLICY:
  - Calculator / classifier errors (InvalidTimeError, InvalidInputError) are
    caller mistakes and are always surfaced synchronously.
  - ErrUnknownCountry / ErrUnknownAchievement surface as not-found.
  - ErrConflict is a unique-key conflict at the persistence boundary. The
    unlock path turns it into "already unlocked"; it is never a failure.
  - TransientPersistenceError is swallowed and logged by the side channels
    (milestone recording, feed emission, achievement evaluation).
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTime is returned when a target time precedes the baseline anchor.
	ErrInvalidTime = errors.New("target time precedes baseline anchor")

	// ErrInvalidInput is returned for malformed baseline, indicator or classifier input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownCountry is returned when a referenced country doesn't exist.
	ErrUnknownCountry = errors.New("unknown country")

	// ErrUnknownAchievement is returned when an achievement id is not in the catalog.
	ErrUnknownAchievement = errors.New("unknown achievement")

	// ErrConflict is returned by stores when a conditional insert finds an
	// existing row for the same unique key.
	ErrConflict = errors.New("conflict: record already exists")

	// ErrTransientPersistence marks store failures that may succeed on retry.
	ErrTransientPersistence = errors.New("transient persistence failure")

	// ErrBaselineImmutable is returned when something tries to rewrite baseline fields.
	ErrBaselineImmutable = errors.New("baseline fields are write-once")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTimeError reports a projection target before the anchor.
type InvalidTimeError struct {
	CountryID CountryID
	Anchor    SimTime
	Target    SimTime
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("invalid target time %s for country %q: precedes anchor %s",
		e.Target, e.CountryID, e.Anchor)
}

func (e *InvalidTimeError) Unwrap() error { return ErrInvalidTime }

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// TransientPersistenceError wraps a store failure on a side-channel write.
type TransientPersistenceError struct {
	Op  string
	Err error
}

func (e *TransientPersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *TransientPersistenceError) Unwrap() []error {
	return []error{ErrTransientPersistence, e.Err}
}

// Transient wraps err as a TransientPersistenceError unless it already is
// one or is nil.
func Transient(op string, err error) error {
	if err == nil || errors.Is(err, ErrTransientPersistence) {
		return err
	}
	return &TransientPersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTime) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrBaselineImmutable)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownCountry) ||
		errors.Is(err, ErrUnknownAchievement)
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsTransient(err error) bool { return errors.Is(err, ErrTransientPersistence) }
