// internal/usecase/contract_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contract-service/config"
	"contract-service/internal/domain"
	"contract-service/internal/metrics"
	"contract-service/internal/pub"
	"contract-service/internal/repository"
	"contract-service/pkg/utils/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxCASRetries bounds how often a contract write is re-evaluated after losing a version race.
const maxCASRetries = 3

type ContractUsecase struct {
	contractRepo repository.ContractRepository
	paymentRepo  repository.PaymentRepository
	publisher    pub.Publisher
	ledger       config.LedgerConfig
	logger       *zap.Logger
	audit        *zap.Logger
	now          func() time.Time
}

func NewContractUsecase(
	contractRepo repository.ContractRepository,
	paymentRepo repository.PaymentRepository,
	publisher pub.Publisher,
	ledger config.LedgerConfig,
	logger *zap.Logger,
) *ContractUsecase {
	if publisher == nil {
		publisher = pub.Noop()
	}
	return &ContractUsecase{
		contractRepo: contractRepo,
		paymentRepo:  paymentRepo,
		publisher:    publisher,
		ledger:       ledger,
		logger:       logger,
		audit:        logger.Named("audit"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type MilestoneInput struct {
	Name        string
	Description string
	Budget      decimal.Decimal
	DueDate     *time.Time
}

// ContractInput carries the creator-editable fields of a contract.
type ContractInput struct {
	ContributorID   string
	Name            string
	Description     string
	Category        string
	Type            domain.ContractType
	Currency        string
	Budget          decimal.Decimal
	HourlyRate      decimal.Decimal
	WeeklyHourCap   int
	DueDate         *time.Time
	PlatformFee     *decimal.Decimal
	SplitMilestones bool
	Milestones      []MilestoneInput
}

func (in ContractInput) apply(c *domain.Contract) {
	c.ContributorID = strings.TrimSpace(in.ContributorID)
	c.Name = strings.TrimSpace(in.Name)
	c.Description = in.Description
	c.Category = in.Category
	c.Type = in.Type
	c.Currency = strings.ToUpper(in.Currency)
	c.Budget = in.Budget
	c.HourlyRate = in.HourlyRate
	c.WeeklyHourCap = in.WeeklyHourCap
	c.DueDate = in.DueDate
	c.PlatformFee = in.PlatformFee
	c.SplitMilestones = in.SplitMilestones
	c.Milestones = make([]domain.Milestone, len(in.Milestones))
	for i, m := range in.Milestones {
		c.Milestones[i] = domain.Milestone{
			Name:        strings.TrimSpace(m.Name),
			Description: m.Description,
			Budget:      m.Budget,
			DueDate:     m.DueDate,
			Status:      domain.MilestoneStatusInProgress,
		}
	}
}

func (uc *ContractUsecase) validate(c *domain.Contract) error {
	if c.Currency == "" {
		c.Currency = uc.ledger.Currency
	}
	if c.Currency != uc.ledger.Currency {
		return domain.NewValidationError("currency", fmt.Sprintf("only %s contracts are supported", uc.ledger.Currency))
	}
	return c.Validate()
}

// Create stores a new draft owned by the actor.
func (uc *ContractUsecase) Create(ctx context.Context, in ContractInput, actor domain.Identity) (*domain.Contract, error) {
	if actor.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	c := &domain.Contract{
		ID:        id.ContractID(),
		CreatorID: actor.ExternalID,
		Status:    domain.ContractStatusDraft,
	}
	in.apply(c)
	if err := uc.validate(c); err != nil {
		return nil, err
	}

	if err := uc.contractRepo.Create(ctx, c); err != nil {
		uc.logger.Error("failed to create contract",
			zap.String("creator_id", actor.ExternalID),
			zap.Error(err))
		return nil, err
	}

	uc.logger.Info("contract created",
		zap.String("contract_id", c.ID),
		zap.String("creator_id", c.CreatorID),
		zap.String("type", string(c.Type)),
		zap.Int("milestones", len(c.Milestones)))
	return c, nil
}

// Update replaces the editable fields of a draft. Only its creator may do this.
func (uc *ContractUsecase) Update(ctx context.Context, contractID string, in ContractInput, actor domain.Identity) (*domain.Contract, error) {
	c, err := uc.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := c.CanEdit(actor); err != nil {
		return nil, err
	}
	in.apply(c)
	if err := uc.validate(c); err != nil {
		return nil, err
	}
	if err := uc.contractRepo.Update(ctx, c); err != nil {
		if !errors.Is(err, domain.ErrConcurrentModification) {
			uc.logger.Error("failed to update contract", zap.String("contract_id", contractID), zap.Error(err))
		}
		return nil, err
	}
	uc.logger.Info("contract updated", zap.String("contract_id", c.ID), zap.Int64("version", c.Version))
	return c, nil
}

// Get returns a contract visible to the actor.
func (uc *ContractUsecase) Get(ctx context.Context, contractID string, actor domain.Identity) (*domain.Contract, error) {
	c, err := uc.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor.ExternalID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to this contract", domain.ErrForbidden)
	}
	return c, nil
}

// List returns the actor's contracts. role narrows to "creator" or "contributor".
func (uc *ContractUsecase) List(ctx context.Context, actor domain.Identity, role string, status *domain.ContractStatus, limit, offset int) ([]*domain.Contract, error) {
	switch role {
	case "", "creator", "contributor":
	default:
		return nil, domain.NewValidationError("role", "must be creator or contributor")
	}
	if status != nil && !status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *status))
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return uc.contractRepo.List(ctx, domain.ContractFilter{
		PartyID: actor.ExternalID,
		AsRole:  role,
		Status:  status,
		Limit:   limit,
		Offset:  offset,
	})
}

// ChangeStatus applies a contract status transition on behalf of actor.
func (uc *ContractUsecase) ChangeStatus(ctx context.Context, contractID string, change domain.StatusChange, actor domain.Identity) (*domain.Contract, error) {
	if !change.To.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", change.To))
	}

	for attempt := 1; ; attempt++ {
		c, err := uc.contractRepo.GetByID(ctx, contractID)
		if err != nil {
			return nil, err
		}
		from := c.Status
		if err := c.AuthorizeTransition(change, actor); err != nil {
			return nil, err
		}

		switch change.To {
		case domain.ContractStatusPending:
			if err := uc.validate(c); err != nil {
				return nil, err
			}
			if c.ContributorID == "" && c.InvitationToken == "" {
				c.InvitationToken = id.InvitationToken()
			}
		case domain.ContractStatusCompleted:
			if err := uc.requireAllPaid(ctx, c); err != nil {
				return nil, err
			}
		}

		c.ApplyStatus(change, actor, uc.now())
		err = uc.contractRepo.Update(ctx, c)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt < maxCASRetries {
			uc.logger.Debug("contract version race, re-evaluating",
				zap.String("contract_id", contractID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		uc.recordTransition(ctx, c, from, change.Reason, actor)
		return c, nil
	}
}

func (uc *ContractUsecase) requireAllPaid(ctx context.Context, c *domain.Contract) error {
	paid, err := uc.paymentRepo.SucceededIndexes(ctx, c.ID)
	if err != nil {
		return err
	}
	if !c.AllPaid(paid) {
		return fmt.Errorf("%w: %d of %d milestones are paid", domain.ErrInvalidTransition, len(paid), len(c.Milestones))
	}
	return nil
}

func (uc *ContractUsecase) recordTransition(ctx context.Context, c *domain.Contract, from domain.ContractStatus, reason string, actor domain.Identity) {
	metrics.ContractTransitions.WithLabelValues(string(from), string(c.Status)).Inc()
	uc.audit.Info("contract status changed",
		zap.String("contract_id", c.ID),
		zap.String("actor_id", actor.ExternalID),
		zap.String("from", string(from)),
		zap.String("to", string(c.Status)),
		zap.String("note", reason))
	uc.publisher.Publish(ctx, pub.Event{
		Type:     pub.EventContractStatusChanged,
		Key:      c.ID,
		ActorID:  actor.ExternalID,
		Audience: parties(c),
		Data: map[string]interface{}{
			"contract_id": c.ID,
			"from":        from,
			"to":          c.Status,
			"reason":      reason,
		},
		Timestamp: uc.now(),
	})
}

// ChangeMilestoneStatus moves one milestone of an active contract.
func (uc *ContractUsecase) ChangeMilestoneStatus(ctx context.Context, contractID string, index int, change domain.MilestoneChange, actor domain.Identity) (*domain.Contract, error) {
	if !change.To.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown milestone status %q", change.To))
	}

	for attempt := 1; ; attempt++ {
		c, err := uc.contractRepo.GetByID(ctx, contractID)
		if err != nil {
			return nil, err
		}
		from, err := c.ChangeMilestone(index, change, actor, uc.now())
		if err != nil {
			return nil, err
		}
		err = uc.contractRepo.Update(ctx, c)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt < maxCASRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		uc.logger.Info("milestone status changed",
			zap.String("contract_id", c.ID),
			zap.Int("milestone_index", index),
			zap.String("actor_id", actor.ExternalID),
			zap.String("from", string(from)),
			zap.String("to", string(change.To)))
		uc.publisher.Publish(ctx, pub.Event{
			Type:     pub.EventMilestoneStatusChanged,
			Key:      c.ID,
			ActorID:  actor.ExternalID,
			Audience: parties(c),
			Data: map[string]interface{}{
				"contract_id":     c.ID,
				"milestone_index": index,
				"from":            from,
				"to":              change.To,
			},
			Timestamp: uc.now(),
		})
		return c, nil
	}
}

// Delete removes a draft. Only its creator may do this.
func (uc *ContractUsecase) Delete(ctx context.Context, contractID string, actor domain.Identity) error {
	c, err := uc.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return err
	}
	if err := c.CanEdit(actor); err != nil {
		return err
	}
	if err := uc.contractRepo.Delete(ctx, c.ID, c.Version); err != nil {
		return err
	}
	uc.audit.Info("contract deleted", zap.String("contract_id", c.ID), zap.String("actor_id", actor.ExternalID))
	return nil
}

// InvitationView is what an invitee sees before accepting.
type InvitationView struct {
	ContractID  string                `json:"contract_id"`
	CreatorID   string                `json:"creator_id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Category    string                `json:"category,omitempty"`
	Type        domain.ContractType   `json:"type"`
	Currency    string                `json:"currency"`
	Budget      decimal.Decimal       `json:"budget"`
	HourlyRate  decimal.Decimal       `json:"hourly_rate"`
	DueDate     *time.Time            `json:"due_date,omitempty"`
	Status      domain.ContractStatus `json:"status"`
	Milestones  []InvitationMilestone `json:"milestones"`
}

type InvitationMilestone struct {
	Name    string          `json:"name"`
	Budget  decimal.Decimal `json:"budget"`
	DueDate *time.Time      `json:"due_date,omitempty"`
}

// GetByInvitation resolves an invitation token of a pending contract.
func (uc *ContractUsecase) GetByInvitation(ctx context.Context, token string) (*InvitationView, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.NewValidationError("token", "is required")
	}
	c, err := uc.contractRepo.GetByInvitationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ContractStatusPending {
		return nil, domain.ErrNotFound
	}
	view := &InvitationView{
		ContractID:  c.ID,
		CreatorID:   c.CreatorID,
		Name:        c.Name,
		Description: c.Description,
		Category:    c.Category,
		Type:        c.Type,
		Currency:    c.Currency,
		Budget:      c.Budget,
		HourlyRate:  c.HourlyRate,
		DueDate:     c.DueDate,
		Status:      c.Status,
		Milestones:  make([]InvitationMilestone, len(c.Milestones)),
	}
	for i, m := range c.Milestones {
		view.Milestones[i] = InvitationMilestone{Name: m.Name, Budget: m.Budget, DueDate: m.DueDate}
	}
	return view, nil
}

// CompleteIfAllPaid advances an active contract to completed once every milestone has a
// succeeded payment. It reports whether this call performed the transition.
func (uc *ContractUsecase) CompleteIfAllPaid(ctx context.Context, contractID string) (bool, error) {
	for attempt := 1; ; attempt++ {
		c, err := uc.contractRepo.GetByID(ctx, contractID)
		if err != nil {
			return false, err
		}
		if c.Status != domain.ContractStatusActive || len(c.Milestones) == 0 {
			return false, nil
		}
		paid, err := uc.paymentRepo.SucceededIndexes(ctx, c.ID)
		if err != nil {
			return false, err
		}
		if !c.AllPaid(paid) {
			return false, nil
		}

		c.ApplyStatus(domain.StatusChange{To: domain.ContractStatusCompleted, Reason: "all milestones paid"}, domain.SystemIdentity, uc.now())
		err = uc.contractRepo.Update(ctx, c)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt < maxCASRetries {
			continue
		}
		if err != nil {
			return false, err
		}
		uc.recordTransition(ctx, c, domain.ContractStatusActive, "all milestones paid", domain.SystemIdentity)
		return true, nil
	}
}

func parties(c *domain.Contract) []string {
	if c.ContributorID == "" {
		return []string{c.CreatorID}
	}
	return []string{c.CreatorID, c.ContributorID}
}
