package domain

import (
	"errors"
	"fmt"
)

// Generic
var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrValidation             = errors.New("validation failed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStore                  = errors.New("store failure")
)

// Contract / milestone
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDraft          = errors.New("contract is not a draft")
)

// Payment
var (
	ErrAlreadyPaid       = errors.New("milestone already paid")
	ErrPaymentInProgress = errors.New("payment already in progress")
	ErrPaymentFailed     = errors.New("payment failed")
)

// Balance / withdrawal
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrPendingWithdrawalExists = errors.New("a pending withdrawal already exists")
	ErrAlreadyProcessed        = errors.New("withdrawal already processed")
)

// TransitionError reports a status change that the rules do not allow.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func NewTransitionError(entity string, from, to fmt.Stringer) *TransitionError {
	return &TransitionError{Entity: entity, From: from.String(), To: to.String()}
}

// ValidationError is malformed or missing input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PaymentFailedError is what callers see when a gateway attempt did not succeed.
// Retryable tells the caller whether the same payment method may be tried again.
type PaymentFailedError struct {
	PaymentID string
	Retryable bool
	Reason    string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment %s failed (retryable=%t): %s", e.PaymentID, e.Retryable, e.Reason)
}

func (e *PaymentFailedError) Unwrap() error { return ErrPaymentFailed }

// StoreError wraps an infrastructure failure. The wrapped cause is logged, never shown to callers.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
