package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"contract-service/config"
	"contract-service/internal/domain"
	"contract-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestPayingEveryMilestoneCompletesContract(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100", "200")

	for i := range c.Milestones {
		h.approve(t, c.ID, i)
		p, err := h.payments.PayMilestone(ctx, c.ID, i, "pm_card", client)
		if err != nil {
			t.Fatalf("pay milestone %d: %v", i, err)
		}
		if p.Status != domain.PaymentStatusSucceeded {
			t.Fatalf("milestone %d payment status = %s", i, p.Status)
		}
	}

	got, err := h.contracts.Get(ctx, c.ID, client)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ContractStatusCompleted {
		t.Fatalf("contract should auto-complete, status = %s", got.Status)
	}

	b := h.balance(t, dev)
	if !b.Available.Equal(dec("270")) || !b.LifetimeEarnings.Equal(dec("270")) {
		t.Fatalf("expected 270 credited after a 10%% fee, got available=%s lifetime=%s", b.Available, b.LifetimeEarnings)
	}
	if !b.Consistent() {
		t.Fatalf("balance equation broken: %+v", b)
	}
}

func TestPayingUnapprovedMilestoneCreatesNoRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")

	_, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_card", client)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	attempts, err := h.store.Payments.ListByMilestone(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("no payment should be recorded, found %d", len(attempts))
	}
}

func TestOnlyCreatorPays(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	if _, err := h.payments.PayMilestone(context.Background(), c.ID, 0, "pm_card", dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("contributor paying should be forbidden, got %v", err)
	}
}

func TestConcurrentPaymentsChargeOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
		other     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_card", client)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrAlreadyPaid), errors.Is(err, domain.ErrPaymentInProgress):
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || refused != n-1 || len(other) != 0 {
		t.Fatalf("succeeded=%d refused=%d other=%v", succeeded, refused, other)
	}
	b := h.balance(t, dev)
	if !b.Available.Equal(dec("90")) {
		t.Fatalf("contributor should be credited once, available = %s", b.Available)
	}
}

func TestDeclinedPaymentNeedsNewMethod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100", "50")
	h.approve(t, c.ID, 0)

	p, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_decline_card", client)
	var perr *domain.PaymentFailedError
	if !errors.As(err, &perr) || perr.Retryable {
		t.Fatalf("expected terminal PaymentFailedError, got %v", err)
	}
	if p == nil || p.Status != domain.PaymentStatusFailed {
		t.Fatalf("failed attempt should be returned, got %+v", p)
	}

	if _, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "", client); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("retrying a declined method should be a validation error, got %v", err)
	}

	retried, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "pm_other_card", client)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Attempt != 2 || retried.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected attempt 2 succeeded, got attempt=%d status=%s", retried.Attempt, retried.Status)
	}

	view, err := h.payments.GetMilestonePaymentStatus(ctx, c.ID, 0, dev)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.Paid || view.Attempts != 2 || view.Latest.ID != retried.ID {
		t.Fatalf("unexpected status view: %+v", view)
	}
}

func TestRetryableFailureKeepsMethod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	_, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_retry_card", client)
	var perr *domain.PaymentFailedError
	if !errors.As(err, &perr) || !perr.Retryable {
		t.Fatalf("expected retryable PaymentFailedError, got %v", err)
	}

	// Same method again: the sandbox keeps failing it, but the retry is allowed.
	_, err = h.payments.RetryMilestonePayment(ctx, c.ID, 0, "", client)
	if !errors.As(err, &perr) || !perr.Retryable {
		t.Fatalf("expected another retryable failure, got %v", err)
	}
	attempts, _ := h.store.Payments.ListByMilestone(ctx, c.ID, 0)
	if len(attempts) != 2 {
		t.Fatalf("expected two attempts, got %d", len(attempts))
	}
}

func TestGatewayTimeoutLeavesPaymentProcessing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	p, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_timeout", client)
	var perr *domain.PaymentFailedError
	if !errors.As(err, &perr) || !perr.Retryable {
		t.Fatalf("timeout should surface as retryable PaymentFailedError, got %v", err)
	}
	if p.Status != domain.PaymentStatusProcessing {
		t.Fatalf("payment should stay processing, got %s", p.Status)
	}

	if _, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "pm_card", client); !errors.Is(err, domain.ErrPaymentInProgress) {
		t.Fatalf("retry while processing should be refused, got %v", err)
	}
	if _, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_card", client); !errors.Is(err, domain.ErrPaymentInProgress) {
		t.Fatalf("pay while processing should be refused, got %v", err)
	}
	if b := h.balance(t, dev); !b.Available.IsZero() {
		t.Fatalf("nothing should be credited yet, available = %s", b.Available)
	}

	// The gateway never recorded the charge, so reconciliation fails it as retryable.
	report, err := h.payments.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected one failed resolution, got %+v", report)
	}

	paid, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "pm_card", client)
	if err != nil {
		t.Fatalf("retry after reconcile: %v", err)
	}
	if paid.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("retry should succeed, got %s", paid.Status)
	}
}

func TestAsyncChargeSettledByCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	p, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_async", client)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if p.Status != domain.PaymentStatusProcessing || p.GatewayRef == nil {
		t.Fatalf("async charge should stay processing with a gateway ref, got %+v", p)
	}

	cb := &provider.CallbackResult{IdempotencyKey: p.ID, ChargeID: *p.GatewayRef, Outcome: provider.OutcomeSucceeded}
	for i := 0; i < 2; i++ {
		got, err := h.payments.HandleGatewayCallback(ctx, cb)
		if err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
		if got.Status != domain.PaymentStatusSucceeded {
			t.Fatalf("callback %d: status = %s", i, got.Status)
		}
	}

	if b := h.balance(t, dev); !b.Available.Equal(dec("90")) {
		t.Fatalf("replayed callback must credit once, available = %s", b.Available)
	}
	got, _ := h.contracts.Get(ctx, c.ID, client)
	if got.Status != domain.ContractStatusCompleted {
		t.Fatalf("contract should complete after the callback, status = %s", got.Status)
	}
}

func TestReconcilerSettlesAsyncCharge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	p, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_async", client)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !h.gateway.Settle(p.ID, provider.OutcomeSucceeded) {
		t.Fatal("sandbox should hold the pending charge")
	}

	report, err := h.payments.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected one success, got %+v", report)
	}
	if b := h.balance(t, dev); !b.Available.Equal(dec("90")) {
		t.Fatalf("available = %s", b.Available)
	}
}

func TestPaymentStatusHiddenFromStrangers(t *testing.T) {
	h := newHarness(t)
	c := h.activeContract(t, "100")
	stranger := domain.Identity{ExternalID: "nosy"}
	if _, err := h.payments.GetMilestonePaymentStatus(context.Background(), c.ID, 0, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

// recordingGateway remembers every charge request before handing it to the sandbox.
type recordingGateway struct {
	*provider.Sandbox
	mu      sync.Mutex
	charges []provider.ChargeRequest
}

func (g *recordingGateway) Charge(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, *req)
	g.mu.Unlock()
	return g.Sandbox.Charge(ctx, req)
}

func TestGatewayIsChargedBudgetMinusFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	gw := &recordingGateway{Sandbox: provider.NewSandbox()}
	ledger := config.LedgerConfig{PlatformFeePercent: decimal.NewFromInt(10), Currency: "USD"}
	payments := NewPaymentUsecase(h.store.Contracts, h.store.Payments, h.store.Balances, gw, h.contracts, nil, nil, ledger, 50*time.Millisecond, zap.NewNop())

	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)
	p, err := payments.PayMilestone(ctx, c.ID, 0, "pm_card", client)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	if len(gw.charges) != 1 {
		t.Fatalf("charges = %d, want 1", len(gw.charges))
	}
	charged := gw.charges[0]
	if !charged.Amount.Equal(dec("90")) || charged.Currency != "USD" || charged.IdempotencyKey != p.ID {
		t.Fatalf("unexpected charge %+v", charged)
	}
	if !p.Amount.Equal(charged.Amount) || !p.Fee.Equal(dec("10")) || !p.Gross.Equal(dec("100")) {
		t.Fatalf("payment gross=%s fee=%s amount=%s", p.Gross, p.Fee, p.Amount)
	}
	if b := h.balance(t, dev); !b.Available.Equal(dec("90")) {
		t.Fatalf("available = %s, want 90", b.Available)
	}
}

func TestRetryChecksPayerFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100", "50")
	h.approve(t, c.ID, 0)
	if _, err := h.payments.PayMilestone(ctx, c.ID, 0, "pm_card", client); err != nil {
		t.Fatalf("pay: %v", err)
	}

	stranger := domain.Identity{ExternalID: "nosy", Role: domain.RoleUser, Verified: true}
	if _, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "", stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger retry: expected forbidden, got %v", err)
	}
	if _, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "", dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("contributor retry: expected forbidden, got %v", err)
	}
	if _, err := h.payments.RetryMilestonePayment(ctx, "ctr_missing", 0, "", client); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing contract: expected not found, got %v", err)
	}
	if _, err := h.payments.RetryMilestonePayment(ctx, c.ID, 0, "", client); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("creator retry on paid milestone: expected already paid, got %v", err)
	}
}

func TestReconcilerAppliesOwedCredit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)

	// A payment that succeeded at the gateway but whose credit never landed.
	p := &domain.Payment{
		ID:              "pay_owed",
		ContractID:      c.ID,
		MilestoneIndex:  0,
		Gross:           dec("100"),
		Fee:             dec("10"),
		Amount:          dec("90"),
		Currency:        "USD",
		PayerID:         client.ExternalID,
		PayeeID:         dev.ExternalID,
		PaymentMethodID: "pm_card",
	}
	if err := h.store.Payments.CreateAttempt(ctx, p); err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	if err := h.store.Payments.MarkProcessing(ctx, p.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, _, err := h.store.Payments.Finalize(ctx, p.ID, domain.PaymentResolution{Status: domain.PaymentStatusSucceeded, GatewayRef: "ch_owed"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if b := h.balance(t, dev); !b.Available.IsZero() {
		t.Fatalf("nothing should be credited yet, available = %s", b.Available)
	}

	report, err := h.payments.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Credited != 1 {
		t.Fatalf("expected one owed credit, got %+v", report)
	}
	if b := h.balance(t, dev); !b.Available.Equal(dec("90")) || !b.LifetimeEarnings.Equal(dec("90")) {
		t.Fatalf("balance after reconcile: %+v", b)
	}
	got, err := h.contracts.Get(ctx, c.ID, client)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if got.Status != domain.ContractStatusCompleted {
		t.Fatalf("contract status = %s, want completed", got.Status)
	}

	again, err := h.payments.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	if err != nil || again.Credited != 0 {
		t.Fatalf("second pass should credit nothing: report=%+v err=%v", again, err)
	}
}
