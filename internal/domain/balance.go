package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a contributor's ledger position. Reserved holds amounts escrowed against
// withdrawals that are still pending or processing.
type Balance struct {
	ContributorID    string          `json:"contributor_id" db:"contributor_id"`
	Currency         string          `json:"currency" db:"currency"`
	Available        decimal.Decimal `json:"available" db:"available"`
	Reserved         decimal.Decimal `json:"reserved" db:"reserved"`
	LifetimeEarnings decimal.Decimal `json:"lifetime_earnings" db:"lifetime_earnings"`
	TotalWithdrawn   decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// EmptyBalance is what a contributor who has never been credited sees.
func EmptyBalance(contributorID, currency string) *Balance {
	return &Balance{
		ContributorID:    contributorID,
		Currency:         currency,
		Available:        decimal.Zero,
		Reserved:         decimal.Zero,
		LifetimeEarnings: decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
	}
}

// Consistent checks lifetime earnings = available + reserved + withdrawn.
func (b *Balance) Consistent() bool {
	return b.LifetimeEarnings.Equal(b.Available.Add(b.Reserved).Add(b.TotalWithdrawn)) && !b.Available.IsNegative()
}

// BalanceAudit compares a stored balance with one derived from payments and withdrawals.
type BalanceAudit struct {
	ContributorID     string          `json:"contributor_id"`
	Credits           decimal.Decimal `json:"credits"`
	CompletedDebits   decimal.Decimal `json:"completed_debits"`
	Reserved          decimal.Decimal `json:"reserved"`
	ExpectedAvailable decimal.Decimal `json:"expected_available"`
	StoredAvailable   decimal.Decimal `json:"stored_available"`
}

func (a BalanceAudit) OK() bool { return a.ExpectedAvailable.Equal(a.StoredAvailable) }

// BalanceEvent is pushed to live subscribers whenever a balance moves.
type BalanceEvent struct {
	ContributorID string          `json:"contributor_id"`
	Reason        string          `json:"reason"`
	Reference     string          `json:"reference"`
	Available     decimal.Decimal `json:"available"`
	Reserved      decimal.Decimal `json:"reserved"`
	At            time.Time       `json:"at"`
}
