// internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contract-service/config"
	"contract-service/internal/domain"
	"contract-service/internal/metrics"
	"contract-service/internal/provider"
	"contract-service/internal/pub"
	"contract-service/internal/repository"
	"contract-service/pkg/utils/id"

	"go.uber.org/zap"
)

type PaymentUsecase struct {
	contractRepo   repository.ContractRepository
	paymentRepo    repository.PaymentRepository
	balanceRepo    repository.BalanceRepository
	gateway        provider.ChargeProvider
	contracts      *ContractUsecase
	cache          *repository.Cache
	publisher      pub.Publisher
	ledger         config.LedgerConfig
	gatewayTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewPaymentUsecase(
	contractRepo repository.ContractRepository,
	paymentRepo repository.PaymentRepository,
	balanceRepo repository.BalanceRepository,
	gateway provider.ChargeProvider,
	contracts *ContractUsecase,
	cache *repository.Cache,
	publisher pub.Publisher,
	ledger config.LedgerConfig,
	gatewayTimeout time.Duration,
	logger *zap.Logger,
) *PaymentUsecase {
	if publisher == nil {
		publisher = pub.Noop()
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 15 * time.Second
	}
	return &PaymentUsecase{
		contractRepo:   contractRepo,
		paymentRepo:    paymentRepo,
		balanceRepo:    balanceRepo,
		gateway:        gateway,
		contracts:      contracts,
		cache:          cache,
		publisher:      publisher,
		ledger:         ledger,
		gatewayTimeout: gatewayTimeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// PayMilestone charges the creator for an approved milestone and credits the contributor.
//
// A returned payment in processing with a nil error means the gateway accepted the charge
// but has not settled it yet. A *domain.PaymentFailedError comes back together with the
// recorded attempt.
func (uc *PaymentUsecase) PayMilestone(ctx context.Context, contractID string, index int, paymentMethodID string, actor domain.Identity) (*domain.Payment, error) {
	if paymentMethodID == "" {
		return nil, domain.NewValidationError("payment_method_id", "is required")
	}
	c, err := uc.payerContract(ctx, contractID, actor)
	if err != nil {
		return nil, err
	}
	return uc.attempt(ctx, c, index, paymentMethodID)
}

// payerContract loads the contract and refuses anyone but its creator.
func (uc *PaymentUsecase) payerContract(ctx context.Context, contractID string, actor domain.Identity) (*domain.Contract, error) {
	c, err := uc.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsCreator(actor.ExternalID) {
		metrics.PaymentRejections.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: only the contract creator pays milestones", domain.ErrForbidden)
	}
	return c, nil
}

// RetryMilestonePayment starts a new attempt after a failed one. paymentMethodID defaults to the
// method of the failed attempt; a terminal decline requires a different method.
func (uc *PaymentUsecase) RetryMilestonePayment(ctx context.Context, contractID string, index int, paymentMethodID string, actor domain.Identity) (*domain.Payment, error) {
	c, err := uc.payerContract(ctx, contractID, actor)
	if err != nil {
		return nil, err
	}
	attempts, err := uc.paymentRepo.ListByMilestone(ctx, c.ID, index)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, domain.NewValidationError("milestone_index", "no payment attempt to retry")
	}
	last := attempts[len(attempts)-1]
	switch last.Status {
	case domain.PaymentStatusSucceeded:
		return nil, domain.ErrAlreadyPaid
	case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
		return nil, domain.ErrPaymentInProgress
	}

	if paymentMethodID == "" {
		paymentMethodID = last.PaymentMethodID
	}
	if !last.Retryable && paymentMethodID == last.PaymentMethodID {
		return nil, domain.NewValidationError("payment_method_id", "the previous attempt was declined; use a different payment method")
	}
	return uc.attempt(ctx, c, index, paymentMethodID)
}

func (uc *PaymentUsecase) attempt(ctx context.Context, c *domain.Contract, index int, paymentMethodID string) (*domain.Payment, error) {
	if c.Status != domain.ContractStatusActive {
		// A completed contract is usually one whose last milestone was just paid.
		paid, err := uc.paymentRepo.SucceededIndexes(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if paid[index] {
			metrics.PaymentRejections.WithLabelValues("already_paid").Inc()
			return nil, domain.ErrAlreadyPaid
		}
		metrics.PaymentRejections.WithLabelValues("contract_not_active").Inc()
		return nil, fmt.Errorf("%w: contract is %s", domain.ErrInvalidTransition, c.Status)
	}
	m, err := c.Milestone(index)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MilestoneStatusApproved {
		metrics.PaymentRejections.WithLabelValues("milestone_not_approved").Inc()
		return nil, &domain.TransitionError{Entity: "milestone payment", From: string(m.Status), To: "paid"}
	}

	gross, fee, net, err := c.MilestonePayout(index, uc.ledger.PlatformFeePercent)
	if err != nil {
		return nil, err
	}
	p := &domain.Payment{
		ID:              id.PaymentID(),
		ContractID:      c.ID,
		MilestoneIndex:  index,
		Gross:           gross,
		Fee:             fee,
		Amount:          net,
		Currency:        c.Currency,
		PayerID:         c.CreatorID,
		PayeeID:         c.ContributorID,
		PaymentMethodID: paymentMethodID,
	}
	if err := uc.paymentRepo.CreateAttempt(ctx, p); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyPaid):
			metrics.PaymentRejections.WithLabelValues("already_paid").Inc()
		case errors.Is(err, domain.ErrPaymentInProgress):
			metrics.PaymentRejections.WithLabelValues("in_progress").Inc()
		default:
			uc.logger.Error("failed to record payment attempt",
				zap.String("contract_id", c.ID),
				zap.Int("milestone_index", index),
				zap.Error(err))
		}
		return nil, err
	}
	if err := uc.paymentRepo.MarkProcessing(ctx, p.ID); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatusProcessing

	uc.logger.Info("submitting milestone payment",
		zap.String("payment_id", p.ID),
		zap.String("contract_id", c.ID),
		zap.Int("milestone_index", index),
		zap.Int("attempt", p.Attempt),
		zap.String("gross", gross.String()),
		zap.String("fee", fee.String()),
		zap.String("net", net.String()),
		zap.String("provider", uc.gateway.Name()))

	// The charge must not be abandoned because the HTTP client went away.
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.gatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := uc.gateway.Charge(gctx, &provider.ChargeRequest{
		IdempotencyKey:  p.ID,
		Amount:          net,
		Currency:        p.Currency,
		PaymentMethodID: paymentMethodID,
		PayerID:         p.PayerID,
		PayeeID:         p.PayeeID,
		Description:     fmt.Sprintf("%s - milestone %d: %s", c.Name, index+1, m.Name),
		Metadata: map[string]string{
			"contract_id":     c.ID,
			"milestone_index": fmt.Sprint(index),
		},
	})
	metrics.GatewayLatency.WithLabelValues(uc.gateway.Name(), "charge").Observe(time.Since(start).Seconds())

	if err != nil {
		// Outcome unknown: the attempt stays processing until a callback or the reconciler settles it.
		metrics.PaymentAttempts.WithLabelValues("no_response").Inc()
		uc.logger.Warn("gateway gave no definitive response; payment left processing",
			zap.String("payment_id", p.ID),
			zap.Error(err))
		return p, &domain.PaymentFailedError{
			PaymentID: p.ID,
			Retryable: true,
			Reason:    "the payment provider did not respond; the charge is being confirmed",
		}
	}
	return uc.applyResult(ctx, p, res)
}

// applyResult records a definitive gateway result for an in-flight attempt.
func (uc *PaymentUsecase) applyResult(ctx context.Context, p *domain.Payment, res *provider.ChargeResult) (*domain.Payment, error) {
	if res.Outcome == provider.OutcomePending {
		if res.ChargeID != "" {
			if err := uc.paymentRepo.SetGatewayRef(ctx, p.ID, res.ChargeID); err != nil {
				return nil, err
			}
			ref := res.ChargeID
			p.GatewayRef = &ref
		}
		metrics.PaymentAttempts.WithLabelValues("pending").Inc()
		uc.publishPayment(ctx, pub.EventPaymentProcessing, p)
		return p, nil
	}

	final, err := uc.resolve(ctx, p.ID, res)
	if err != nil {
		return nil, err
	}
	if final.Status == domain.PaymentStatusFailed {
		reason := ""
		if final.FailureReason != nil {
			reason = *final.FailureReason
		}
		return final, &domain.PaymentFailedError{PaymentID: final.ID, Retryable: final.Retryable, Reason: reason}
	}
	return final, nil
}

func resolution(res *provider.ChargeResult) domain.PaymentResolution {
	r := domain.PaymentResolution{GatewayRef: res.ChargeID}
	switch res.Outcome {
	case provider.OutcomeSucceeded:
		r.Status = domain.PaymentStatusSucceeded
	case provider.OutcomeFailedRetryable:
		r.Status = domain.PaymentStatusFailed
		r.Retryable = true
		r.Reason = failureReason(res, "temporary payment failure")
	default:
		r.Status = domain.PaymentStatusFailed
		r.Reason = failureReason(res, "payment declined")
	}
	return r
}

func failureReason(res *provider.ChargeResult, fallback string) string {
	switch {
	case res.Code != "" && res.Message != "":
		return res.Code + ": " + res.Message
	case res.Message != "":
		return res.Message
	case res.Code != "":
		return res.Code
	}
	return fallback
}

// resolve finalizes an attempt and, when it succeeded, settles the ledger.
// Settlement also runs when the attempt was already succeeded, since crediting is idempotent.
func (uc *PaymentUsecase) resolve(ctx context.Context, paymentID string, res *provider.ChargeResult) (*domain.Payment, error) {
	p, changed, err := uc.paymentRepo.Finalize(ctx, paymentID, resolution(res))
	if err != nil {
		uc.logger.Error("failed to finalize payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, err
	}

	if changed {
		metrics.PaymentAttempts.WithLabelValues(string(res.Outcome)).Inc()
		uc.logger.Info("payment finalized",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.Bool("retryable", p.Retryable))
		if p.Status == domain.PaymentStatusFailed {
			uc.publishPayment(ctx, pub.EventPaymentFailed, p)
		}
	}
	if p.Status == domain.PaymentStatusSucceeded {
		uc.settle(ctx, p, changed)
	}
	return p, nil
}

// settle credits the payee and completes the contract when this was its last unpaid milestone.
// Failures here do not undo the payment; the reconciler applies owed credits later.
func (uc *PaymentUsecase) settle(ctx context.Context, p *domain.Payment, announce bool) {
	credited, err := uc.balanceRepo.CreditForPayment(ctx, p)
	if err != nil {
		uc.logger.Error("failed to credit contributor; credit is owed",
			zap.String("payment_id", p.ID),
			zap.String("payee_id", p.PayeeID),
			zap.Error(err))
		return
	}
	if announce {
		uc.publishPayment(ctx, pub.EventPaymentSucceeded, p)
	}
	if credited {
		uc.logger.Info("contributor credited",
			zap.String("payment_id", p.ID),
			zap.String("payee_id", p.PayeeID),
			zap.String("amount", p.Amount.String()))
		if err := uc.cache.InvalidateBalance(ctx, p.PayeeID); err != nil {
			uc.logger.Warn("failed to invalidate balance cache", zap.String("contributor_id", p.PayeeID), zap.Error(err))
		}
		uc.publishBalance(ctx, p.PayeeID, "milestone_payment", p.ID)
	}

	if _, err := uc.contracts.CompleteIfAllPaid(ctx, p.ContractID); err != nil {
		uc.logger.Warn("failed to auto-complete contract",
			zap.String("contract_id", p.ContractID),
			zap.Error(err))
	}
}

func (uc *PaymentUsecase) publishPayment(ctx context.Context, eventType string, p *domain.Payment) {
	uc.publisher.Publish(ctx, pub.Event{
		Type:      eventType,
		Key:       p.ContractID,
		ActorID:   p.PayerID,
		Audience:  []string{p.PayerID, p.PayeeID},
		Data:      p,
		Timestamp: uc.now(),
	})
}

func (uc *PaymentUsecase) publishBalance(ctx context.Context, contributorID, reason, reference string) {
	b, err := uc.balanceRepo.Get(ctx, contributorID)
	if err != nil {
		uc.logger.Warn("failed to load balance for event", zap.String("contributor_id", contributorID), zap.Error(err))
		return
	}
	uc.publisher.Publish(ctx, pub.Event{
		Type:     pub.EventBalanceUpdated,
		Key:      contributorID,
		Audience: []string{contributorID},
		Data: domain.BalanceEvent{
			ContributorID: contributorID,
			Reason:        reason,
			Reference:     reference,
			Available:     b.Available,
			Reserved:      b.Reserved,
			At:            uc.now(),
		},
		Timestamp: uc.now(),
	})
}

// GetMilestonePaymentStatus reports the current attempt of a milestone to a contract party.
func (uc *PaymentUsecase) GetMilestonePaymentStatus(ctx context.Context, contractID string, index int, actor domain.Identity) (*domain.PaymentStatusView, error) {
	c, err := uc.contractRepo.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor.ExternalID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to this contract", domain.ErrForbidden)
	}
	if _, err := c.Milestone(index); err != nil {
		return nil, err
	}
	attempts, err := uc.paymentRepo.ListByMilestone(ctx, contractID, index)
	if err != nil {
		return nil, err
	}

	view := &domain.PaymentStatusView{
		ContractID:     contractID,
		MilestoneIndex: index,
		Latest:         domain.CurrentAttempt(attempts),
		Attempts:       len(attempts),
	}
	for _, a := range attempts {
		if a.Status == domain.PaymentStatusSucceeded {
			view.Paid = true
			break
		}
	}
	return view, nil
}

// HandleGatewayCallback applies an asynchronous provider notification. Replays are no-ops.
func (uc *PaymentUsecase) HandleGatewayCallback(ctx context.Context, cb *provider.CallbackResult) (*domain.Payment, error) {
	p, err := uc.paymentRepo.GetByID(ctx, cb.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) && cb.ChargeID != "" {
		p, err = uc.paymentRepo.GetByGatewayRef(ctx, cb.ChargeID)
	}
	if err != nil {
		return nil, err
	}

	uc.logger.Info("gateway callback received",
		zap.String("payment_id", p.ID),
		zap.String("charge_id", cb.ChargeID),
		zap.String("outcome", string(cb.Outcome)),
		zap.String("current_status", string(p.Status)))

	res := &provider.ChargeResult{Outcome: cb.Outcome, ChargeID: cb.ChargeID, Code: cb.Code, Message: cb.Message}
	if res.Outcome == provider.OutcomePending {
		if p.IsFinal() || cb.ChargeID == "" {
			return p, nil
		}
		if err := uc.paymentRepo.SetGatewayRef(ctx, p.ID, cb.ChargeID); err != nil {
			return nil, err
		}
		return uc.paymentRepo.GetByID(ctx, p.ID)
	}
	return uc.resolve(ctx, p.ID, res)
}

// ReconcileReport counts what one reconciliation pass resolved.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Unknown   int `json:"unknown"`
	Credited  int `json:"credited"`
}

// ReconcileStale resolves attempts that have not moved since before, asking the gateway
// for the outcome of processing ones, then applies credits owed to succeeded payments.
func (uc *PaymentUsecase) ReconcileStale(ctx context.Context, before time.Time, limit int) (*ReconcileReport, error) {
	stale, err := uc.paymentRepo.ListStale(ctx, before, limit)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Scanned: len(stale)}

	for i := range stale {
		p := &stale[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if p.Status == domain.PaymentStatusPending {
			// Never reached the gateway.
			if _, err := uc.resolve(ctx, p.ID, &provider.ChargeResult{
				Outcome: provider.OutcomeFailedRetryable,
				Message: "attempt abandoned before submission",
			}); err != nil {
				return report, err
			}
			report.Abandoned++
			metrics.ReconcilerResolved.WithLabelValues("abandoned").Inc()
			continue
		}

		qctx, cancel := context.WithTimeout(ctx, uc.gatewayTimeout)
		start := time.Now()
		res, err := uc.gateway.QueryCharge(qctx, p.ID)
		cancel()
		metrics.GatewayLatency.WithLabelValues(uc.gateway.Name(), "query").Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, provider.ErrChargeNotFound):
			res = &provider.ChargeResult{Outcome: provider.OutcomeFailedRetryable, Message: "the payment provider has no record of this charge"}
		case err != nil:
			report.Unknown++
			uc.logger.Warn("could not query stale payment", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		case res.Outcome == provider.OutcomePending:
			report.Unknown++
			continue
		}

		final, err := uc.resolve(ctx, p.ID, res)
		if err != nil {
			return report, err
		}
		if final.Status == domain.PaymentStatusSucceeded {
			report.Succeeded++
			metrics.ReconcilerResolved.WithLabelValues("succeeded").Inc()
		} else {
			report.Failed++
			metrics.ReconcilerResolved.WithLabelValues("failed").Inc()
		}
	}

	credited, err := uc.ApplyOwedCredits(ctx, limit)
	report.Credited = credited
	if err != nil {
		return report, err
	}

	if report.Scanned > 0 || report.Credited > 0 {
		uc.logger.Info("reconciliation pass finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("abandoned", report.Abandoned),
			zap.Int("unknown", report.Unknown),
			zap.Int("credited", report.Credited))
	}
	return report, nil
}

// ApplyOwedCredits credits succeeded payments whose balance credit never landed.
func (uc *PaymentUsecase) ApplyOwedCredits(ctx context.Context, limit int) (int, error) {
	owed, err := uc.paymentRepo.ListUncredited(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range owed {
		p := &owed[i]
		credited, err := uc.balanceRepo.CreditForPayment(ctx, p)
		if err != nil {
			return n, err
		}
		if !credited {
			continue
		}
		n++
		metrics.ReconcilerResolved.WithLabelValues("credit").Inc()
		if err := uc.cache.InvalidateBalance(ctx, p.PayeeID); err != nil {
			uc.logger.Warn("failed to invalidate balance cache", zap.String("contributor_id", p.PayeeID), zap.Error(err))
		}
		uc.publishBalance(ctx, p.PayeeID, "milestone_payment", p.ID)
		if _, err := uc.contracts.CompleteIfAllPaid(ctx, p.ContractID); err != nil {
			uc.logger.Warn("failed to auto-complete contract", zap.String("contract_id", p.ContractID), zap.Error(err))
		}
	}
	return n, nil
}

// AuditBalance compares a contributor's stored balance with the one derived from history.
func (uc *PaymentUsecase) AuditBalance(ctx context.Context, contributorID string) (*domain.BalanceAudit, error) {
	return uc.balanceRepo.Audit(ctx, contributorID)
}
