package domain

import "fmt"

// Error types for consistent error handling across the sync layer.

// ErrNotFound indicates a referenced document was missing at write time,
// e.g. a wallet deleted by a concurrent operation.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrInsufficientFunds indicates an expense would drive a wallet balance
// below zero. No partial write occurs.
type ErrInsufficientFunds struct {
	Available float64
	Required  float64
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%.2f required=%.2f", e.Available, e.Required)
}

// ErrRateLimited indicates the rolling-window limit on profile display-name
// changes was hit.
type ErrRateLimited struct {
	Limit  int
	Window string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: at most %d username changes per %s", e.Limit, e.Window)
}

// ErrConcurrencyConflict indicates the store's retry budget for an atomic
// unit was exhausted without a clean commit.
type ErrConcurrencyConflict struct {
	Operation string
}

func (e *ErrConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict: %s could not commit after retries", e.Operation)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a resource already exists (e.g. duplicate email).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrExternalService indicates a failure in the remote store or identity
// backend.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}
