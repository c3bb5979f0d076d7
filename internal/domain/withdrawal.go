// internal/domain/withdrawal.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) String() string { return string(s) }

func (s WithdrawalStatus) IsFinal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusRejected
}

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusProcessing, WithdrawalStatusCompleted, WithdrawalStatusRejected:
		return true
	}
	return false
}

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusProcessing, WithdrawalStatusRejected},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusRejected},
}

// CheckWithdrawalTransition validates an admin move from one status to another.
func CheckWithdrawalTransition(from, to WithdrawalStatus) error {
	if from.IsFinal() {
		return fmt.Errorf("%w: withdrawal is already %s", ErrAlreadyProcessed, from)
	}
	for _, allowed := range withdrawalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return NewTransitionError("withdrawal", from, to)
}

// WithdrawalInfo is the contributor's payout destination.
type WithdrawalInfo struct {
	ContributorID string    `json:"contributor_id" db:"contributor_id"`
	BankName      string    `json:"bank_name" db:"bank_name"`
	AccountName   string    `json:"account_name" db:"account_name"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	BranchCode    string    `json:"branch_code,omitempty" db:"branch_code"`
	SwiftCode     string    `json:"swift_code,omitempty" db:"swift_code"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (w *WithdrawalInfo) Validate() error {
	if strings.TrimSpace(w.BankName) == "" {
		return NewValidationError("bank_name", "is required")
	}
	if strings.TrimSpace(w.AccountName) == "" {
		return NewValidationError("account_name", "is required")
	}
	if strings.TrimSpace(w.AccountNumber) == "" {
		return NewValidationError("account_number", "is required")
	}
	return nil
}

// Masked hides all but the last four account digits.
func (w WithdrawalInfo) Masked() WithdrawalInfo {
	n := len(w.AccountNumber)
	if n > 4 {
		w.AccountNumber = strings.Repeat("*", n-4) + w.AccountNumber[n-4:]
	}
	return w
}

// Withdrawal is a contributor cash-out request. Destination is a snapshot taken at request time.
type Withdrawal struct {
	ID                string           `json:"id" db:"id"`
	ContributorID     string           `json:"contributor_id" db:"contributor_id"`
	Amount            decimal.Decimal  `json:"amount" db:"amount"`
	Currency          string           `json:"currency" db:"currency"`
	Destination       WithdrawalInfo   `json:"destination" db:"destination"`
	Status            WithdrawalStatus `json:"status" db:"status"`
	AdminID           *string          `json:"admin_id,omitempty" db:"admin_id"`
	AdminNote         *string          `json:"admin_note,omitempty" db:"admin_note"`
	ExternalReference *string          `json:"external_reference,omitempty" db:"external_reference"`
	RejectionReason   *string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	RequestedAt       time.Time        `json:"requested_at" db:"requested_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

// WithdrawalUpdate is an admin transition with its audit fields.
type WithdrawalUpdate struct {
	To                WithdrawalStatus
	AdminID           string
	Note              string
	ExternalReference string
	Reason            string
}

// WithdrawalFilter narrows withdrawal listings.
type WithdrawalFilter struct {
	ContributorID string
	Status        *WithdrawalStatus
	Limit         int
	Offset        int
}
