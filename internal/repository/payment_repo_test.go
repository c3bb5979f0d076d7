package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"contract-service/internal/domain"
	"contract-service/migrations"
	"contract-service/pkg/utils/id"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// testPool connects to DATABASE_URL and applies the schema; the test is skipped without it.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := migrations.Apply(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func seedContract(t *testing.T, pool *pgxpool.Pool) *domain.Contract {
	t.Helper()
	ctx := context.Background()
	c := &domain.Contract{
		ID:            id.ContractID(),
		CreatorID:     "client-1",
		ContributorID: "dev-1",
		Name:          "integration",
		Type:          domain.ContractTypeFixed,
		Currency:      "USD",
		Budget:        decimal.NewFromInt(100),
		Status:        domain.ContractStatusActive,
		Milestones: []domain.Milestone{
			{Name: "m1", Budget: decimal.NewFromInt(100), Status: domain.MilestoneStatusApproved},
		},
	}
	if err := NewContractRepository(pool).Create(ctx, c); err != nil {
		t.Fatalf("create contract: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM balance_credits WHERE payment_id IN (SELECT id FROM payments WHERE contract_id = $1)`, c.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM payments WHERE contract_id = $1`, c.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM contracts WHERE id = $1`, c.ID)
	})
	return c
}

func newAttempt(c *domain.Contract) *domain.Payment {
	return &domain.Payment{
		ID:              id.PaymentID(),
		ContractID:      c.ID,
		MilestoneIndex:  0,
		Gross:           decimal.NewFromInt(100),
		Fee:             decimal.NewFromInt(10),
		Amount:          decimal.NewFromInt(90),
		Currency:        "USD",
		PayerID:         c.CreatorID,
		PayeeID:         c.ContributorID,
		PaymentMethodID: "pm_card",
	}
}

func TestCreateAttemptAllowsOneOpenAttempt(t *testing.T) {
	pool := testPool(t)
	c := seedContract(t, pool)
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		blocked int
		other   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateAttempt(ctx, newAttempt(c))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrPaymentInProgress):
				blocked++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || blocked != n-1 || len(other) != 0 {
		t.Fatalf("created=%d blocked=%d other=%v", created, blocked, other)
	}

	attempts, err := repo.ListByMilestone(ctx, c.ID, 0)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("attempts=%d err=%v", len(attempts), err)
	}
	first := attempts[0]
	if _, changed, err := repo.Finalize(ctx, first.ID, domain.PaymentResolution{Status: domain.PaymentStatusFailed, Retryable: true, Reason: "issuer unavailable"}); err != nil || !changed {
		t.Fatalf("fail first attempt: changed=%v err=%v", changed, err)
	}

	second := newAttempt(c)
	if err := repo.CreateAttempt(ctx, second); err != nil {
		t.Fatalf("second attempt after failure: %v", err)
	}
	if second.Attempt != 2 {
		t.Fatalf("attempt number = %d, want 2", second.Attempt)
	}
	if _, _, err := repo.Finalize(ctx, second.ID, domain.PaymentResolution{Status: domain.PaymentStatusSucceeded, GatewayRef: "ch_it"}); err != nil {
		t.Fatalf("succeed second attempt: %v", err)
	}
	if err := repo.CreateAttempt(ctx, newAttempt(c)); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("attempt after success: expected already paid, got %v", err)
	}

	// A replayed finalize reports no change.
	if _, changed, err := repo.Finalize(ctx, second.ID, domain.PaymentResolution{Status: domain.PaymentStatusSucceeded}); err != nil || changed {
		t.Fatalf("replayed finalize: changed=%v err=%v", changed, err)
	}
}
