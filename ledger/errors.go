/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is / errors.As; the HTTP layer
  maps the classes to status codes.

ERROR CATEGORIES:
  1. Validation     - rejected before any mutation (bad value, missing field)
  2. NotFound       - office, invoice, employee or loan missing
  3. InvalidState   - operation not allowed in the current state
                      (deleted invoice, over-repaid loan, unknown ledger)
  4. Concurrency    - critical section contention not resolved by retry

  ErrConcurrentModification is the store-level signal (CAS miss). The
  service retries it a bounded number of times and surfaces
  ConcurrencyConflictError when the retries run out.

SEE ALSO:
  - service.go: retry loop in Mutate
  - api/handlers.go: status code mapping
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing office, invoice, employee or loan.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation the target's state does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds is returned when a spending-class posting exceeds
	// the balance of an office that requires sufficient funds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned by a store when a compare-and-swap
	// on a balance or a journal sequence loses a race. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConcurrencyConflict is returned to callers when retries are exhausted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateReference is returned by a store when a reference number
	// already exists for the office.
	ErrDuplicateReference = errors.New("duplicate reference number")

	// ErrStoreRequired is returned when an operation requires a store capability
	// the configured store does not provide.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError explains why the operation is not allowed.
type InvalidStateError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientFundsError provides details about a balance shortage.
// It matches both ErrInsufficientFunds and ErrInvalidState.
type InsufficientFundsError struct {
	Office    OfficeID
	Ledger    LedgerID
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s/%s: available %s, required %s",
		e.Office, e.Ledger, FormatAmount(e.Available), FormatAmount(e.Required))
}

func (e *InsufficientFundsError) Unwrap() []error {
	return []error{ErrInsufficientFunds, ErrInvalidState}
}

// ConcurrencyConflictError is returned when the critical section of a ledger
// could not be entered cleanly within the retry budget.
type ConcurrencyConflictError struct {
	Office   OfficeID
	Ledger   LedgerID
	Attempts int
	Last     error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s/%s after %d attempts: %v",
		e.Office, e.Ledger, e.Attempts, e.Last)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState returns true if the operation conflicts with current state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
