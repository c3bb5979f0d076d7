package usecase

import (
	"context"
	"testing"
	"time"

	"contract-service/config"
	"contract-service/internal/domain"
	"contract-service/internal/provider"
	"contract-service/internal/repository/memory"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	client = domain.Identity{ExternalID: "client-1", Role: domain.RoleUser, Verified: true}
	dev    = domain.Identity{ExternalID: "dev-1", Role: domain.RoleUser, Verified: true}
	admin  = domain.Identity{ExternalID: "admin-1", Role: domain.RoleAdmin, Verified: true}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	store       *memory.Store
	gateway     *provider.Sandbox
	contracts   *ContractUsecase
	payments    *PaymentUsecase
	withdrawals *WithdrawalUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	ledger := config.LedgerConfig{
		PlatformFeePercent: decimal.NewFromInt(10),
		Currency:           "USD",
		StoreDriver:        "memory",
	}
	s := memory.NewStore()
	gw := provider.NewSandbox()
	contracts := NewContractUsecase(s.Contracts, s.Payments, nil, ledger, logger)
	return &harness{
		store:       s,
		gateway:     gw,
		contracts:   contracts,
		payments:    NewPaymentUsecase(s.Contracts, s.Payments, s.Balances, gw, contracts, nil, nil, ledger, 50*time.Millisecond, logger),
		withdrawals: NewWithdrawalUsecase(s.Withdrawals, s.Balances, nil, nil, ledger, logger),
	}
}

// activeContract creates a fixed contract between client and dev and walks it to active.
func (h *harness) activeContract(t *testing.T, budgets ...string) *domain.Contract {
	t.Helper()
	ctx := context.Background()
	in := ContractInput{
		ContributorID: dev.ExternalID,
		Name:          "Landing page",
		Type:          domain.ContractTypeFixed,
		Currency:      "USD",
	}
	total := decimal.Zero
	for i, b := range budgets {
		in.Milestones = append(in.Milestones, MilestoneInput{Name: "m" + string(rune('1'+i)), Budget: dec(b)})
		total = total.Add(dec(b))
	}
	in.Budget = total
	in.SplitMilestones = len(budgets) > 0

	c, err := h.contracts.Create(ctx, in, client)
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if _, err := h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusPending}, client); err != nil {
		t.Fatalf("send contract: %v", err)
	}
	c, err = h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusActive}, dev)
	if err != nil {
		t.Fatalf("accept contract: %v", err)
	}
	return c
}

func (h *harness) approve(t *testing.T, contractID string, index int) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.contracts.ChangeMilestoneStatus(ctx, contractID, index, domain.MilestoneChange{
		To:                domain.MilestoneStatusSubmitted,
		SubmissionDetails: "https://example.test/build",
	}, dev); err != nil {
		t.Fatalf("submit milestone %d: %v", index, err)
	}
	if _, err := h.contracts.ChangeMilestoneStatus(ctx, contractID, index, domain.MilestoneChange{
		To: domain.MilestoneStatusApproved,
	}, client); err != nil {
		t.Fatalf("approve milestone %d: %v", index, err)
	}
}

func (h *harness) balance(t *testing.T, who domain.Identity) *domain.Balance {
	t.Helper()
	b, err := h.withdrawals.GetBalance(context.Background(), who)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b
}
