// internal/domain/contract.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ContractType string
type ContractStatus string

const (
	ContractTypeFixed  ContractType = "fixed"
	ContractTypeHourly ContractType = "hourly"
)

const (
	ContractStatusDraft     ContractStatus = "draft"
	ContractStatusPending   ContractStatus = "pending"
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCompleted ContractStatus = "completed"
	ContractStatusRejected  ContractStatus = "rejected"
	ContractStatusDisputed  ContractStatus = "disputed"
	ContractStatusArchived  ContractStatus = "archived"
)

func (s ContractStatus) String() string { return string(s) }

// IsTerminal reports statuses nothing may leave.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractStatusCompleted, ContractStatusRejected, ContractStatusArchived:
		return true
	}
	return false
}

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractStatusDraft, ContractStatusPending, ContractStatusActive, ContractStatusCompleted,
		ContractStatusRejected, ContractStatusDisputed, ContractStatusArchived:
		return true
	}
	return false
}

type party int

const (
	partyCreator party = iota + 1
	partyContributor
	partyEither
)

var contractTransitions = map[ContractStatus]map[ContractStatus]party{
	ContractStatusDraft: {
		ContractStatusPending:  partyCreator,
		ContractStatusArchived: partyCreator,
	},
	ContractStatusPending: {
		ContractStatusActive:   partyContributor,
		ContractStatusRejected: partyContributor,
		ContractStatusArchived: partyCreator,
	},
	ContractStatusActive: {
		ContractStatusCompleted: partyEither,
		ContractStatusDisputed:  partyEither,
		ContractStatusArchived:  partyCreator,
	},
	ContractStatusDisputed: {
		ContractStatusArchived: partyCreator,
	},
}

// Contract is the aggregate root: its milestones are only ever mutated through it
// and persisted in the same write.
type Contract struct {
	ID              string           `json:"id" db:"id"`
	CreatorID       string           `json:"creator_id" db:"creator_id"`
	ContributorID   string           `json:"contributor_id,omitempty" db:"contributor_id"`
	Name            string           `json:"name" db:"name"`
	Description     string           `json:"description,omitempty" db:"description"`
	Category        string           `json:"category,omitempty" db:"category"`
	Type            ContractType     `json:"type" db:"type"`
	Currency        string           `json:"currency" db:"currency"`
	Budget          decimal.Decimal  `json:"budget" db:"budget"`
	HourlyRate      decimal.Decimal  `json:"hourly_rate" db:"hourly_rate"`
	WeeklyHourCap   int              `json:"weekly_hour_cap,omitempty" db:"weekly_hour_cap"`
	DueDate         *time.Time       `json:"due_date,omitempty" db:"due_date"`
	PlatformFee     *decimal.Decimal `json:"platform_fee,omitempty" db:"platform_fee"`
	SplitMilestones bool             `json:"split_milestones" db:"split_milestones"`
	Status          ContractStatus   `json:"status" db:"status"`
	StatusReason    string           `json:"status_reason,omitempty" db:"status_reason"`
	InvitationToken string           `json:"-" db:"invitation_token"`
	Milestones      []Milestone      `json:"milestones" db:"milestones"`
	Version         int64            `json:"version" db:"version"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// ContractFilter narrows GET /contracts.
type ContractFilter struct {
	PartyID string
	AsRole  string // "creator", "contributor" or empty for either
	Status  *ContractStatus
	Limit   int
	Offset  int
}

// StatusChange is a requested contract transition.
type StatusChange struct {
	To              ContractStatus
	Reason          string
	InvitationToken string
}

func (c *Contract) IsCreator(id string) bool { return id != "" && id == c.CreatorID }

func (c *Contract) IsContributor(id string) bool {
	return id != "" && id == c.ContributorID
}

func (c *Contract) IsParty(id string) bool { return c.IsCreator(id) || c.IsContributor(id) }

// Clone returns a deep copy so callers never share milestone slices.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	out := *c
	if c.PlatformFee != nil {
		fee := *c.PlatformFee
		out.PlatformFee = &fee
	}
	if c.DueDate != nil {
		d := *c.DueDate
		out.DueDate = &d
	}
	out.Milestones = make([]Milestone, len(c.Milestones))
	for i := range c.Milestones {
		out.Milestones[i] = c.Milestones[i].clone()
	}
	return &out
}

// Validate checks shape and budget rules of a contract's editable fields.
func (c *Contract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if c.CreatorID == "" {
		return NewValidationError("creator_id", "is required")
	}
	if c.ContributorID != "" && c.ContributorID == c.CreatorID {
		return NewValidationError("contributor_id", "must differ from the creator")
	}
	if len(c.Currency) != 3 {
		return NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if c.PlatformFee != nil && (c.PlatformFee.IsNegative() || c.PlatformFee.GreaterThanOrEqual(decimal.NewFromInt(100))) {
		return NewValidationError("platform_fee", "must be between 0 and 100")
	}

	switch c.Type {
	case ContractTypeFixed:
		if !c.Budget.IsPositive() {
			return NewValidationError("budget", "must be greater than 0")
		}
		sum := decimal.Zero
		for i, m := range c.Milestones {
			if strings.TrimSpace(m.Name) == "" {
				return NewValidationError(fmt.Sprintf("milestones[%d].name", i), "is required")
			}
			if !m.Budget.IsPositive() {
				return NewValidationError(fmt.Sprintf("milestones[%d].budget", i), "must be greater than 0")
			}
			sum = sum.Add(m.Budget)
		}
		if c.SplitMilestones {
			if len(c.Milestones) == 0 {
				return NewValidationError("milestones", "at least one milestone is required when split_milestones is enabled")
			}
			if !sum.Equal(c.Budget) {
				return NewValidationError("milestones", fmt.Sprintf("milestone budgets sum to %s, contract budget is %s", sum.String(), c.Budget.String()))
			}
		}
	case ContractTypeHourly:
		if !c.HourlyRate.IsPositive() {
			return NewValidationError("hourly_rate", "must be greater than 0")
		}
		if c.WeeklyHourCap < 0 {
			return NewValidationError("weekly_hour_cap", "must not be negative")
		}
		if len(c.Milestones) > 0 {
			return NewValidationError("milestones", "hourly contracts are paid by period and carry no milestones")
		}
	default:
		return NewValidationError("type", "must be fixed or hourly")
	}
	return nil
}

// AuthorizeTransition checks the transition table and which side of the contract may request it.
func (c *Contract) AuthorizeTransition(change StatusChange, actor Identity) error {
	who, ok := contractTransitions[c.Status][change.To]
	if !ok {
		return NewTransitionError("contract", c.Status, change.To)
	}
	if actor == SystemIdentity {
		return nil
	}

	switch who {
	case partyCreator:
		if !c.IsCreator(actor.ExternalID) {
			return fmt.Errorf("%w: only the contract creator may move a contract to %s", ErrForbidden, change.To)
		}
	case partyContributor:
		if c.ContributorID == "" {
			// Open invitation: whoever holds the token answers it, never the creator.
			if c.IsCreator(actor.ExternalID) {
				return fmt.Errorf("%w: the creator cannot answer their own invitation", ErrForbidden)
			}
			if change.InvitationToken == "" || change.InvitationToken != c.InvitationToken {
				return fmt.Errorf("%w: a valid invitation token is required", ErrForbidden)
			}
			return nil
		}
		if !c.IsContributor(actor.ExternalID) {
			return fmt.Errorf("%w: only the contributor may move a contract to %s", ErrForbidden, change.To)
		}
	case partyEither:
		if !c.IsParty(actor.ExternalID) {
			return fmt.Errorf("%w: not a party to this contract", ErrForbidden)
		}
	}
	return nil
}

// ApplyStatus moves the contract to a new status after AuthorizeTransition passed.
func (c *Contract) ApplyStatus(change StatusChange, actor Identity, now time.Time) {
	if change.To == ContractStatusActive && c.ContributorID == "" {
		c.ContributorID = actor.ExternalID
	}
	c.Status = change.To
	c.StatusReason = change.Reason
	c.UpdatedAt = now
}

// CanEdit reports whether actor may update or delete the contract.
func (c *Contract) CanEdit(actor Identity) error {
	if !c.IsCreator(actor.ExternalID) {
		return fmt.Errorf("%w: only the creator may edit a draft", ErrForbidden)
	}
	if c.Status != ContractStatusDraft {
		return fmt.Errorf("%w: contract is %s", ErrNotDraft, c.Status)
	}
	return nil
}

// Milestone returns the milestone at index or a validation error when out of range.
func (c *Contract) Milestone(index int) (*Milestone, error) {
	if index < 0 || index >= len(c.Milestones) {
		return nil, NewValidationError("milestone_index", fmt.Sprintf("no milestone at index %d", index))
	}
	return &c.Milestones[index], nil
}

// FeePercent is the contract's platform fee or the given default.
func (c *Contract) FeePercent(def decimal.Decimal) decimal.Decimal {
	if c.PlatformFee != nil {
		return *c.PlatformFee
	}
	return def
}

// MilestonePayout splits a milestone budget into platform fee and contributor net amount.
func (c *Contract) MilestonePayout(index int, defaultFee decimal.Decimal) (gross, fee, net decimal.Decimal, err error) {
	m, err := c.Milestone(index)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	gross = m.Budget
	fee = gross.Mul(c.FeePercent(defaultFee)).Div(decimal.NewFromInt(100)).Round(2)
	net = gross.Sub(fee)
	return gross, fee, net, nil
}

// AllPaid reports whether every milestone index appears in paid.
func (c *Contract) AllPaid(paid map[int]bool) bool {
	for i := range c.Milestones {
		if !paid[i] {
			return false
		}
	}
	return true
}
