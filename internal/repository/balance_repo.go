package repository

import (
	"context"
	"fmt"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BalanceRepository interface {
	Get(ctx context.Context, contributorID string) (*domain.Balance, error)
	// CreditForPayment adds a succeeded payment's net amount to its payee's balance exactly once.
	// It reports false when the payment had already been credited.
	CreditForPayment(ctx context.Context, p *domain.Payment) (bool, error)
	IsCredited(ctx context.Context, paymentID string) (bool, error)
	// Audit re-derives the expected available balance from payments and withdrawals.
	Audit(ctx context.Context, contributorID string) (*domain.BalanceAudit, error)
}

type balanceRepo struct {
	db *pgxpool.Pool
}

func NewBalanceRepository(db *pgxpool.Pool) BalanceRepository {
	return &balanceRepo{db: db}
}

const balanceColumns = `contributor_id, currency, available::text, reserved::text,
	lifetime_earnings::text, total_withdrawn::text, updated_at`

func scanBalance(row rowScanner) (*domain.Balance, error) {
	var (
		b                                     domain.Balance
		available, reserved, lifetime, withdr string
	)
	if err := row.Scan(&b.ContributorID, &b.Currency, &available, &reserved, &lifetime, &withdr, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseAmounts(&b.Available, available, &b.Reserved, reserved, &b.LifetimeEarnings, lifetime, &b.TotalWithdrawn, withdr); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *balanceRepo) Get(ctx context.Context, contributorID string) (*domain.Balance, error) {
	b, err := scanBalance(r.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM balances WHERE contributor_id = $1`, contributorID))
	if err != nil {
		return nil, notFoundOr("get balance", err)
	}
	return b, nil
}

func (r *balanceRepo) CreditForPayment(ctx context.Context, p *domain.Payment) (bool, error) {
	if p.Status != domain.PaymentStatusSucceeded {
		return false, fmt.Errorf("credit payment %s: status is %s", p.ID, p.Status)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, domain.WrapStore("begin credit", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO balance_credits (payment_id, contributor_id, amount, credited_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (payment_id) DO NOTHING
	`, p.ID, p.PayeeID, p.Amount.String())
	if err != nil {
		return false, domain.WrapStore("record credit", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (contributor_id, currency, available, reserved, lifetime_earnings, total_withdrawn, updated_at)
		VALUES ($1, $2, $3, 0, $3, 0, NOW())
		ON CONFLICT (contributor_id) DO UPDATE SET
			available = balances.available + EXCLUDED.available,
			lifetime_earnings = balances.lifetime_earnings + EXCLUDED.lifetime_earnings,
			updated_at = NOW()
	`, p.PayeeID, p.Currency, p.Amount.String())
	if err != nil {
		return false, domain.WrapStore("credit balance", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, domain.WrapStore("commit credit", err)
	}
	return true, nil
}

func (r *balanceRepo) IsCredited(ctx context.Context, paymentID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM balance_credits WHERE payment_id = $1)`, paymentID).Scan(&ok)
	if err != nil {
		return false, domain.WrapStore("check credit", err)
	}
	return ok, nil
}

func (r *balanceRepo) Audit(ctx context.Context, contributorID string) (*domain.BalanceAudit, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(amount) FROM balance_credits WHERE contributor_id = $1), 0)::text,
			COALESCE((SELECT SUM(amount) FROM withdrawals WHERE contributor_id = $1 AND status = 'completed'), 0)::text,
			COALESCE((SELECT SUM(amount) FROM withdrawals WHERE contributor_id = $1 AND status IN ('pending', 'processing')), 0)::text,
			COALESCE((SELECT available FROM balances WHERE contributor_id = $1), 0)::text
	`
	var credits, debits, reserved, stored string
	if err := r.db.QueryRow(ctx, query, contributorID).Scan(&credits, &debits, &reserved, &stored); err != nil {
		return nil, domain.WrapStore("audit balance", err)
	}
	a := &domain.BalanceAudit{ContributorID: contributorID}
	if err := parseAmounts(&a.Credits, credits, &a.CompletedDebits, debits, &a.Reserved, reserved, &a.StoredAvailable, stored); err != nil {
		return nil, err
	}
	a.ExpectedAvailable = a.Credits.Sub(a.CompletedDebits).Sub(a.Reserved)
	return a, nil
}
