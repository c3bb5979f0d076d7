// internal/domain/milestone.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MilestoneStatus string

const (
	MilestoneStatusInProgress MilestoneStatus = "in-progress"
	MilestoneStatusSubmitted  MilestoneStatus = "submitted"
	MilestoneStatusApproved   MilestoneStatus = "approved"
	MilestoneStatusRejected   MilestoneStatus = "rejected"
)

func (s MilestoneStatus) String() string { return string(s) }

func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestoneStatusInProgress, MilestoneStatusSubmitted, MilestoneStatusApproved, MilestoneStatusRejected:
		return true
	}
	return false
}

var milestoneTransitions = map[MilestoneStatus]map[MilestoneStatus]party{
	MilestoneStatusInProgress: {MilestoneStatusSubmitted: partyContributor},
	MilestoneStatusSubmitted: {
		MilestoneStatusApproved: partyCreator,
		MilestoneStatusRejected: partyCreator,
	},
	MilestoneStatusRejected: {MilestoneStatusInProgress: partyContributor},
}

// Milestone is addressed positionally inside its contract.
type Milestone struct {
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Budget            decimal.Decimal `json:"budget"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	Status            MilestoneStatus `json:"status"`
	SubmissionDetails string          `json:"submission_details,omitempty"`
	Feedback          string          `json:"feedback,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
}

func (m Milestone) clone() Milestone {
	out := m
	if m.DueDate != nil {
		d := *m.DueDate
		out.DueDate = &d
	}
	if m.SubmittedAt != nil {
		t := *m.SubmittedAt
		out.SubmittedAt = &t
	}
	if m.ReviewedAt != nil {
		t := *m.ReviewedAt
		out.ReviewedAt = &t
	}
	return out
}

// MilestoneChange carries the payload of a milestone status request.
type MilestoneChange struct {
	To                MilestoneStatus
	SubmissionDetails string
	Feedback          string
}

// ChangeMilestone applies a milestone transition in place. The caller persists the whole
// contract afterwards so the milestone and its contract version move together.
func (c *Contract) ChangeMilestone(index int, change MilestoneChange, actor Identity, now time.Time) (MilestoneStatus, error) {
	if c.Status != ContractStatusActive {
		return "", fmt.Errorf("%w: milestones can only change while the contract is active (contract is %s)", ErrInvalidTransition, c.Status)
	}
	m, err := c.Milestone(index)
	if err != nil {
		return "", err
	}
	from := m.Status
	who, ok := milestoneTransitions[from][change.To]
	if !ok {
		return from, NewTransitionError("milestone", from, change.To)
	}
	switch who {
	case partyContributor:
		if !c.IsContributor(actor.ExternalID) {
			return from, fmt.Errorf("%w: only the contributor may move a milestone to %s", ErrForbidden, change.To)
		}
	case partyCreator:
		if !c.IsCreator(actor.ExternalID) {
			return from, fmt.Errorf("%w: only the creator may move a milestone to %s", ErrForbidden, change.To)
		}
	}

	switch change.To {
	case MilestoneStatusSubmitted:
		if strings.TrimSpace(change.SubmissionDetails) == "" {
			return from, NewValidationError("submission_details", "is required when submitting a milestone")
		}
		m.SubmissionDetails = change.SubmissionDetails
		m.SubmittedAt = &now
	case MilestoneStatusRejected:
		if strings.TrimSpace(change.Feedback) == "" {
			return from, NewValidationError("feedback", "is required when rejecting a milestone")
		}
		m.Feedback = change.Feedback
		m.ReviewedAt = &now
	case MilestoneStatusApproved:
		if change.Feedback != "" {
			m.Feedback = change.Feedback
		}
		m.ReviewedAt = &now
	}
	m.Status = change.To
	c.UpdatedAt = now
	return from, nil
}
