package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"contract-service/internal/domain"
)

// earn pays a single 100 milestone so dev holds 90 available.
func (h *harness) earn(t *testing.T) {
	t.Helper()
	c := h.activeContract(t, "100")
	h.approve(t, c.ID, 0)
	if _, err := h.payments.PayMilestone(context.Background(), c.ID, 0, "pm_card", client); err != nil {
		t.Fatalf("pay: %v", err)
	}
}

func (h *harness) withInfo(t *testing.T) {
	t.Helper()
	_, err := h.withdrawals.UpdateWithdrawalInfo(context.Background(), domain.WithdrawalInfo{
		BankName:      "First Bank",
		AccountName:   "Dev One",
		AccountNumber: "0012 3456 7890",
	}, dev)
	if err != nil {
		t.Fatalf("update withdrawal info: %v", err)
	}
}

func TestBalanceDefaultsToZero(t *testing.T) {
	h := newHarness(t)
	b := h.balance(t, dev)
	if !b.Available.IsZero() || b.Currency != "USD" {
		t.Fatalf("unexpected empty balance: %+v", b)
	}
}

func TestWithdrawalInfoIsMasked(t *testing.T) {
	h := newHarness(t)
	h.withInfo(t)
	info, err := h.withdrawals.GetWithdrawalInfo(context.Background(), dev)
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if info.AccountNumber != "********7890" {
		t.Fatalf("account number should be masked, got %q", info.AccountNumber)
	}
}

func TestWithdrawalNeedsPayoutDetails(t *testing.T) {
	h := newHarness(t)
	h.earn(t)
	_, err := h.withdrawals.RequestWithdrawal(context.Background(), dec("10"), dev)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "withdrawal_info" {
		t.Fatalf("expected withdrawal_info validation error, got %v", err)
	}
}

func TestWithdrawalAmountValidation(t *testing.T) {
	h := newHarness(t)
	h.withInfo(t)
	for _, amt := range []string{"0", "-5", "1.005"} {
		if _, err := h.withdrawals.RequestWithdrawal(context.Background(), dec(amt), dev); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("amount %s: expected validation error, got %v", amt, err)
		}
	}
}

func TestRejectedWithdrawalRestoresBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.earn(t)
	h.withInfo(t)

	w, err := h.withdrawals.RequestWithdrawal(ctx, dec("50"), dev)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Destination.AccountNumber != "001234567890" {
		t.Fatalf("destination should snapshot payout details, got %+v", w.Destination)
	}
	b := h.balance(t, dev)
	if !b.Available.Equal(dec("40")) || !b.Reserved.Equal(dec("50")) {
		t.Fatalf("after request: available=%s reserved=%s", b.Available, b.Reserved)
	}

	if _, err := h.withdrawals.RequestWithdrawal(ctx, dec("10"), dev); !errors.Is(err, domain.ErrPendingWithdrawalExists) {
		t.Fatalf("second request should be refused, got %v", err)
	}

	if _, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusRejected, Reason: "name mismatch"}, dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-admin should be forbidden, got %v", err)
	}
	rejected, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusRejected, Reason: "name mismatch"}, admin)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "name mismatch" {
		t.Fatalf("rejection reason not recorded: %+v", rejected)
	}

	b = h.balance(t, dev)
	if !b.Available.Equal(dec("90")) || !b.Reserved.IsZero() {
		t.Fatalf("after reject: available=%s reserved=%s", b.Available, b.Reserved)
	}

	if _, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusCompleted, ExternalReference: "tx-1"}, admin); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("processing a rejected withdrawal should fail with ErrAlreadyProcessed, got %v", err)
	}
}

func TestCompletedWithdrawalKeepsLedgerBalanced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.earn(t)
	h.withInfo(t)

	if _, err := h.withdrawals.RequestWithdrawal(ctx, dec("100"), dev); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw should fail, got %v", err)
	}

	w, err := h.withdrawals.RequestWithdrawal(ctx, dec("50"), dev)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusCompleted, ExternalReference: "tx-9"}, admin); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pending cannot jump to completed, got %v", err)
	}
	if _, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusProcessing}, admin); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if _, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusCompleted}, admin); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("completion without a reference should be a validation error, got %v", err)
	}
	done, err := h.withdrawals.AdminProcess(ctx, w.ID, domain.WithdrawalUpdate{To: domain.WithdrawalStatusCompleted, ExternalReference: "tx-9"}, admin)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.ProcessedAt == nil || done.ExternalReference == nil {
		t.Fatalf("completion should stamp processed_at and the reference: %+v", done)
	}

	b := h.balance(t, dev)
	if !b.Available.Equal(dec("40")) || !b.TotalWithdrawn.Equal(dec("50")) || !b.Reserved.IsZero() {
		t.Fatalf("unexpected balance: %+v", b)
	}
	if !b.Consistent() {
		t.Fatalf("balance equation broken: %+v", b)
	}

	audit, err := h.payments.AuditBalance(ctx, dev.ExternalID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.OK() {
		t.Fatalf("audit mismatch: %+v", audit)
	}

	mine, err := h.withdrawals.ListMine(ctx, dev, nil, 0, 0)
	if err != nil || len(mine) != 1 {
		t.Fatalf("list mine: n=%d err=%v", len(mine), err)
	}
	if _, err := h.withdrawals.AdminList(ctx, domain.WithdrawalFilter{}, dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("admin list should need the admin role, got %v", err)
	}
}

func TestConcurrentWithdrawalsReserveOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.earn(t)
	h.withInfo(t)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
		other   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.withdrawals.RequestWithdrawal(ctx, dec("40"), dev)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrPendingWithdrawalExists), errors.Is(err, domain.ErrInsufficientBalance):
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || refused != n-1 || len(other) != 0 {
		t.Fatalf("ok=%d refused=%d other=%v", ok, refused, other)
	}
	b := h.balance(t, dev)
	if !b.Available.Equal(dec("50")) || !b.Reserved.Equal(dec("40")) {
		t.Fatalf("available=%s reserved=%s, want 50/40", b.Available, b.Reserved)
	}
	audit, err := h.payments.AuditBalance(ctx, dev.ExternalID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.OK() {
		t.Fatalf("ledger out of balance: %+v", audit)
	}
}
