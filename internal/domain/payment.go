// internal/domain/payment.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) String() string { return string(s) }

// Blocking reports statuses that stop a new attempt for the same milestone.
func (s PaymentStatus) Blocking() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing || s == PaymentStatusSucceeded
}

// MilestoneKey identifies the milestone a payment attempt belongs to.
type MilestoneKey struct {
	ContractID     string `json:"contract_id"`
	MilestoneIndex int    `json:"milestone_index"`
}

// Payment is one attempt to move money for a milestone.
type Payment struct {
	ID              string          `json:"id" db:"id"`
	ContractID      string          `json:"contract_id" db:"contract_id"`
	MilestoneIndex  int             `json:"milestone_index" db:"milestone_index"`
	Attempt         int             `json:"attempt" db:"attempt"`
	Gross           decimal.Decimal `json:"gross" db:"gross"`
	Fee             decimal.Decimal `json:"fee" db:"fee"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	PayerID         string          `json:"payer_id" db:"payer_id"`
	PayeeID         string          `json:"payee_id" db:"payee_id"`
	PaymentMethodID string          `json:"payment_method_id" db:"payment_method_id"`
	GatewayRef      *string         `json:"gateway_ref,omitempty" db:"gateway_ref"`
	Status          PaymentStatus   `json:"status" db:"status"`
	Retryable       bool            `json:"retryable" db:"retryable"`
	FailureReason   *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

func (p *Payment) Key() MilestoneKey {
	return MilestoneKey{ContractID: p.ContractID, MilestoneIndex: p.MilestoneIndex}
}

func (p *Payment) IsFinal() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusFailed
}

// PaymentStatusView is the read model for a milestone's payment history.
type PaymentStatusView struct {
	ContractID     string   `json:"contract_id"`
	MilestoneIndex int      `json:"milestone_index"`
	Latest         *Payment `json:"latest,omitempty"`
	Attempts       int      `json:"attempts"`
	Paid           bool     `json:"paid"`
}

// CurrentAttempt picks the latest attempt that has left pending; falls back to the newest one.
// attempts must be ordered by attempt number ascending.
func CurrentAttempt(attempts []Payment) *Payment {
	if len(attempts) == 0 {
		return nil
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Status != PaymentStatusPending {
			p := attempts[i]
			return &p
		}
	}
	p := attempts[len(attempts)-1]
	return &p
}

// PaymentResolution is the terminal outcome recorded for an in-flight attempt.
type PaymentResolution struct {
	Status     PaymentStatus
	GatewayRef string
	Retryable  bool
	Reason     string
}
