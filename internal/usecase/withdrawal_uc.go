// internal/usecase/withdrawal_uc.go
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

type WithdrawalUsecase struct {
	withdrawalRepo repository.WithdrawalRepository
	balanceRepo    repository.BalanceRepository
	cache          *repository.Cache
	publisher      pub.Publisher
	ledger         config.LedgerConfig
	logger         *zap.Logger
	audit          *zap.Logger
	now            func() time.Time
}

func NewWithdrawalUsecase(
	withdrawalRepo repository.WithdrawalRepository,
	balanceRepo repository.BalanceRepository,
	cache *repository.Cache,
	publisher pub.Publisher,
	ledger config.LedgerConfig,
	logger *zap.Logger,
) *WithdrawalUsecase {
	if publisher == nil {
		publisher = pub.Noop()
	}
	return &WithdrawalUsecase{
		withdrawalRepo: withdrawalRepo,
		balanceRepo:    balanceRepo,
		cache:          cache,
		publisher:      publisher,
		ledger:         ledger,
		logger:         logger,
		audit:          logger.Named("audit"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// GetBalance returns the actor's balance, zeroed when nothing was ever credited.
func (uc *WithdrawalUsecase) GetBalance(ctx context.Context, actor domain.Identity) (*domain.Balance, error) {
	if b, ok := uc.cache.CachedBalance(ctx, actor.ExternalID); ok {
		return b, nil
	}
	b, err := uc.balanceRepo.Get(ctx, actor.ExternalID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EmptyBalance(actor.ExternalID, uc.ledger.Currency), nil
	}
	if err != nil {
		return nil, err
	}
	if err := uc.cache.StoreBalance(ctx, b, uc.ledger.BalanceCacheTTL); err != nil {
		uc.logger.Warn("failed to cache balance", zap.String("contributor_id", b.ContributorID), zap.Error(err))
	}
	return b, nil
}

// UpdateWithdrawalInfo stores the actor's payout destination.
func (uc *WithdrawalUsecase) UpdateWithdrawalInfo(ctx context.Context, info domain.WithdrawalInfo, actor domain.Identity) (*domain.WithdrawalInfo, error) {
	info.ContributorID = actor.ExternalID
	info.BankName = strings.TrimSpace(info.BankName)
	info.AccountName = strings.TrimSpace(info.AccountName)
	info.AccountNumber = strings.ReplaceAll(strings.TrimSpace(info.AccountNumber), " ", "")
	if err := info.Validate(); err != nil {
		return nil, err
	}
	info.UpdatedAt = uc.now()
	if err := uc.withdrawalRepo.UpsertInfo(ctx, &info); err != nil {
		return nil, err
	}
	uc.audit.Info("withdrawal info updated", zap.String("contributor_id", actor.ExternalID), zap.String("bank_name", info.BankName))
	masked := info.Masked()
	return &masked, nil
}

func (uc *WithdrawalUsecase) GetWithdrawalInfo(ctx context.Context, actor domain.Identity) (*domain.WithdrawalInfo, error) {
	info, err := uc.withdrawalRepo.GetInfo(ctx, actor.ExternalID)
	if err != nil {
		return nil, err
	}
	masked := info.Masked()
	return &masked, nil
}

// RequestWithdrawal escrows amount out of the available balance until an admin processes it.
func (uc *WithdrawalUsecase) RequestWithdrawal(ctx context.Context, amount decimal.Decimal, actor domain.Identity) (*domain.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, domain.NewValidationError("amount", "must have at most two decimal places")
	}

	info, err := uc.withdrawalRepo.GetInfo(ctx, actor.ExternalID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("withdrawal_info", "add payout details before requesting a withdrawal")
	}
	if err != nil {
		return nil, err
	}

	w := &domain.Withdrawal{
		ID:            id.WithdrawalID(),
		ContributorID: actor.ExternalID,
		Amount:        amount,
		Currency:      uc.ledger.Currency,
		Destination:   *info,
	}
	if err := uc.withdrawalRepo.CreateWithReserve(ctx, w); err != nil {
		if !errors.Is(err, domain.ErrInsufficientBalance) && !errors.Is(err, domain.ErrPendingWithdrawalExists) {
			uc.logger.Error("failed to create withdrawal", zap.String("contributor_id", actor.ExternalID), zap.Error(err))
		}
		return nil, err
	}

	uc.audit.Info("withdrawal requested",
		zap.String("withdrawal_id", w.ID),
		zap.String("contributor_id", w.ContributorID),
		zap.String("amount", w.Amount.String()))
	uc.afterBalanceMove(ctx, w, pub.EventWithdrawalRequested, "withdrawal_reserved")
	return w, nil
}

func (uc *WithdrawalUsecase) ListMine(ctx context.Context, actor domain.Identity, status *domain.WithdrawalStatus, limit, offset int) ([]*domain.Withdrawal, error) {
	return uc.list(ctx, domain.WithdrawalFilter{ContributorID: actor.ExternalID, Status: status, Limit: limit, Offset: offset})
}

// AdminList lists withdrawals across contributors.
func (uc *WithdrawalUsecase) AdminList(ctx context.Context, filter domain.WithdrawalFilter, actor domain.Identity) ([]*domain.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return uc.list(ctx, filter)
}

func (uc *WithdrawalUsecase) list(ctx context.Context, f domain.WithdrawalFilter) ([]*domain.Withdrawal, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *f.Status))
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return uc.withdrawalRepo.List(ctx, f)
}

// AdminProcess moves a withdrawal forward. Rejection releases the escrow back to available;
// completion settles it into total withdrawn.
func (uc *WithdrawalUsecase) AdminProcess(ctx context.Context, withdrawalID string, upd domain.WithdrawalUpdate, actor domain.Identity) (*domain.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	if !upd.To.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", upd.To))
	}
	upd.AdminID = actor.ExternalID
	upd.Reason = strings.TrimSpace(upd.Reason)
	switch upd.To {
	case domain.WithdrawalStatusRejected:
		if upd.Reason == "" {
			upd.Reason = strings.TrimSpace(upd.Note)
		}
		if upd.Reason == "" {
			return nil, domain.NewValidationError("reason", "is required when rejecting a withdrawal")
		}
	case domain.WithdrawalStatusCompleted:
		if strings.TrimSpace(upd.ExternalReference) == "" {
			return nil, domain.NewValidationError("external_reference", "is required when completing a withdrawal")
		}
	}

	w, err := uc.withdrawalRepo.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	from := w.Status
	if err := domain.CheckWithdrawalTransition(from, upd.To); err != nil {
		return nil, err
	}

	updated, err := uc.withdrawalRepo.Transition(ctx, withdrawalID, from, upd)
	if errors.Is(err, domain.ErrConcurrentModification) {
		// Another admin got there first.
		if cur, gerr := uc.withdrawalRepo.GetByID(ctx, withdrawalID); gerr == nil && cur.Status.IsFinal() {
			return nil, fmt.Errorf("%w: withdrawal is already %s", domain.ErrAlreadyProcessed, cur.Status)
		}
		return nil, err
	}
	if err != nil {
		uc.logger.Error("failed to transition withdrawal",
			zap.String("withdrawal_id", withdrawalID),
			zap.String("to", string(upd.To)),
			zap.Error(err))
		return nil, err
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(upd.To)).Inc()
	uc.audit.Info("withdrawal processed",
		zap.String("withdrawal_id", updated.ID),
		zap.String("admin_id", actor.ExternalID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("amount", updated.Amount.String()),
		zap.String("note", upd.Note),
		zap.String("reason", upd.Reason),
		zap.String("external_reference", upd.ExternalReference))

	reason := "withdrawal_" + string(updated.Status)
	uc.afterBalanceMove(ctx, updated, pub.EventWithdrawalProcessed, reason)
	return updated, nil
}

func (uc *WithdrawalUsecase) afterBalanceMove(ctx context.Context, w *domain.Withdrawal, eventType, reason string) {
	if err := uc.cache.InvalidateBalance(ctx, w.ContributorID); err != nil {
		uc.logger.Warn("failed to invalidate balance cache", zap.String("contributor_id", w.ContributorID), zap.Error(err))
	}
	uc.publisher.Publish(ctx, pub.Event{
		Type:      eventType,
		Key:       w.ID,
		Audience:  []string{w.ContributorID},
		Data:      w,
		Timestamp: uc.now(),
	})
	if w.Status == domain.WithdrawalStatusProcessing {
		return
	}
	b, err := uc.balanceRepo.Get(ctx, w.ContributorID)
	if err != nil {
		uc.logger.Warn("failed to load balance for event", zap.String("contributor_id", w.ContributorID), zap.Error(err))
		return
	}
	uc.publisher.Publish(ctx, pub.Event{
		Type:     pub.EventBalanceUpdated,
		Key:      w.ContributorID,
		Audience: []string{w.ContributorID},
		Data: domain.BalanceEvent{
			ContributorID: w.ContributorID,
			Reason:        reason,
			Reference:     w.ID,
			Available:     b.Available,
			Reserved:      b.Reserved,
			At:            uc.now(),
		},
		Timestamp: uc.now(),
	})
}
