// internal/provider/provider.go
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Outcome is a gateway response normalized to what the ledger acts on.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomePending         Outcome = "pending"
	OutcomeFailedRetryable Outcome = "failed_retryable"
	OutcomeFailedTerminal  Outcome = "failed_terminal"
)

var (
	// ErrNoResponse means the charge may or may not have happened; the attempt stays in flight.
	ErrNoResponse = errors.New("no definitive response from payment provider")
	// ErrChargeNotFound means the provider has no record of the idempotency key.
	ErrChargeNotFound = errors.New("charge not found at payment provider")
)

// ChargeProvider is implemented by every charge gateway.
type ChargeProvider interface {
	Name() string

	// Charge submits a charge. A nil error always comes with a definitive result;
	// transport failures and timeouts return an error wrapping ErrNoResponse.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)

	// QueryCharge looks a charge up by the idempotency key it was submitted with.
	QueryCharge(ctx context.Context, idempotencyKey string) (*ChargeResult, error)
}

type ChargeRequest struct {
	IdempotencyKey  string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	PayerID         string
	PayeeID         string
	Description     string
	Metadata        map[string]string
}

type ChargeResult struct {
	Outcome  Outcome
	ChargeID string
	Code     string
	Message  string
}

func (r *ChargeResult) Final() bool {
	return r.Outcome != OutcomePending
}

// CallbackResult is an asynchronous charge notification pushed by a provider.
type CallbackResult struct {
	IdempotencyKey string
	ChargeID       string
	Outcome        Outcome
	Code           string
	Message        string
}
