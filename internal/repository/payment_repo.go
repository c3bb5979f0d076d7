// internal/repository/payment_repo.go
package repository

import (
	"context"
	"errors"
	"time"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository interface {
	// CreateAttempt inserts p as the next pending attempt for its milestone. The store's
	// uniqueness rule (one non-failed attempt per milestone) makes this the single
	// check-and-create step: a blocking attempt yields ErrAlreadyPaid or ErrPaymentInProgress.
	CreateAttempt(ctx context.Context, p *domain.Payment) error
	// MarkProcessing moves a pending attempt to processing; anything else is ErrConcurrentModification.
	MarkProcessing(ctx context.Context, id string) error
	SetGatewayRef(ctx context.Context, id, ref string) error
	// Finalize records a terminal outcome for an attempt still pending or processing.
	// It reports false when the attempt was already final (the stored row is returned unchanged).
	Finalize(ctx context.Context, id string, res domain.PaymentResolution) (*domain.Payment, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByGatewayRef(ctx context.Context, ref string) (*domain.Payment, error)
	ListByMilestone(ctx context.Context, contractID string, index int) ([]domain.Payment, error)
	SucceededIndexes(ctx context.Context, contractID string) (map[int]bool, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
	ListUncredited(ctx context.Context, limit int) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
	p.id, p.contract_id, p.milestone_index, p.attempt, p.gross::text, p.fee::text, p.amount::text,
	p.currency, p.payer_id, p.payee_id, p.payment_method_id, p.gateway_ref, p.status, p.retryable,
	p.failure_reason, p.created_at, p.updated_at, p.completed_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p                  domain.Payment
		gross, fee, amount string
	)
	err := row.Scan(
		&p.ID, &p.ContractID, &p.MilestoneIndex, &p.Attempt, &gross, &fee, &amount,
		&p.Currency, &p.PayerID, &p.PayeeID, &p.PaymentMethodID, &p.GatewayRef, &p.Status, &p.Retryable,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := parseAmounts(&p.Gross, gross, &p.Fee, fee, &p.Amount, amount); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows, op string) ([]domain.Payment, error) {
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.WrapStore(op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore(op, err)
	}
	return out, nil
}

func (r *paymentRepo) CreateAttempt(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, contract_id, milestone_index, attempt, gross, fee, amount, currency,
			payer_id, payee_id, payment_method_id, status, retryable, created_at, updated_at
		)
		SELECT $1, $2, $3::int, COALESCE(MAX(attempt), 0) + 1, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, 'pending', false, NOW(), NOW()
		FROM payments
		WHERE contract_id = $2 AND milestone_index = $3
		RETURNING attempt, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.ID, p.ContractID, p.MilestoneIndex,
		p.Gross.String(), p.Fee.String(), p.Amount.String(), p.Currency,
		p.PayerID, p.PayeeID, p.PaymentMethodID,
	).Scan(&p.Attempt, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		p.Status = domain.PaymentStatusPending
		return nil
	}
	if uniqueViolation(err) == "" {
		return domain.WrapStore("create payment attempt", err)
	}

	// Lost the race against another attempt: report what blocks us.
	var status domain.PaymentStatus
	err = r.db.QueryRow(ctx, `
		SELECT status FROM payments
		WHERE contract_id = $1 AND milestone_index = $2 AND status IN ('pending', 'processing', 'succeeded')
		ORDER BY attempt DESC LIMIT 1
	`, p.ContractID, p.MilestoneIndex).Scan(&status)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.WrapStore("check blocking payment", err)
	}
	if status == domain.PaymentStatusSucceeded {
		return domain.ErrAlreadyPaid
	}
	return domain.ErrPaymentInProgress
}

func (r *paymentRepo) MarkProcessing(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return domain.WrapStore("mark payment processing", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *paymentRepo) SetGatewayRef(ctx context.Context, id, ref string) error {
	_, err := r.db.Exec(ctx, `UPDATE payments SET gateway_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref)
	if err != nil {
		return domain.WrapStore("set gateway ref", err)
	}
	return nil
}

func (r *paymentRepo) Finalize(ctx context.Context, id string, res domain.PaymentResolution) (*domain.Payment, bool, error) {
	query := `
		UPDATE payments p SET
			status = $2,
			gateway_ref = COALESCE($3, p.gateway_ref),
			retryable = $4,
			failure_reason = $5,
			updated_at = NOW(),
			completed_at = NOW()
		WHERE p.id = $1 AND p.status IN ('pending', 'processing')
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRow(ctx, query, id, res.Status, nullable(res.GatewayRef), res.Retryable, nullable(res.Reason)))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.WrapStore("finalize payment", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get payment", err)
	}
	return p, nil
}

func (r *paymentRepo) GetByGatewayRef(ctx context.Context, ref string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.gateway_ref = $1`, ref))
	if err != nil {
		return nil, notFoundOr("get payment by gateway ref", err)
	}
	return p, nil
}

func (r *paymentRepo) ListByMilestone(ctx context.Context, contractID string, index int) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		WHERE p.contract_id = $1 AND p.milestone_index = $2
		ORDER BY p.attempt ASC
	`, contractID, index)
	if err != nil {
		return nil, domain.WrapStore("list milestone payments", err)
	}
	return collectPayments(rows, "list milestone payments")
}

func (r *paymentRepo) SucceededIndexes(ctx context.Context, contractID string) (map[int]bool, error) {
	rows, err := r.db.Query(ctx, `
		SELECT milestone_index FROM payments WHERE contract_id = $1 AND status = 'succeeded'
	`, contractID)
	if err != nil {
		return nil, domain.WrapStore("list paid milestones", err)
	}
	defer rows.Close()

	paid := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, domain.WrapStore("scan paid milestone", err)
		}
		paid[idx] = true
	}
	return paid, rows.Err()
}

func (r *paymentRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		WHERE p.status IN ('pending', 'processing') AND p.updated_at < $1
		ORDER BY p.updated_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, domain.WrapStore("list stale payments", err)
	}
	return collectPayments(rows, "list stale payments")
}

func (r *paymentRepo) ListUncredited(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		LEFT JOIN balance_credits bc ON bc.payment_id = p.id
		WHERE p.status = 'succeeded' AND bc.payment_id IS NULL
		ORDER BY p.completed_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, domain.WrapStore("list uncredited payments", err)
	}
	return collectPayments(rows, "list uncredited payments")
}
