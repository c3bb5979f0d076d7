// internal/repository/withdrawal_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WithdrawalRepository interface {
	// CreateWithReserve escrows w.Amount out of the available balance and records the request
	// in one transaction. Fails with ErrInsufficientBalance or ErrPendingWithdrawalExists.
	CreateWithReserve(ctx context.Context, w *domain.Withdrawal) error
	// Transition moves a withdrawal out of status from and applies the balance effect of the
	// target status in the same transaction.
	Transition(ctx context.Context, id string, from domain.WithdrawalStatus, upd domain.WithdrawalUpdate) (*domain.Withdrawal, error)
	GetByID(ctx context.Context, id string) (*domain.Withdrawal, error)
	List(ctx context.Context, filter domain.WithdrawalFilter) ([]*domain.Withdrawal, error)
	GetInfo(ctx context.Context, contributorID string) (*domain.WithdrawalInfo, error)
	UpsertInfo(ctx context.Context, info *domain.WithdrawalInfo) error
}

type withdrawalRepo struct {
	db *pgxpool.Pool
}

func NewWithdrawalRepository(db *pgxpool.Pool) WithdrawalRepository {
	return &withdrawalRepo{db: db}
}

const withdrawalColumns = `
	id, contributor_id, amount::text, currency, destination, status, admin_id, admin_note,
	external_reference, rejection_reason, requested_at, updated_at, processed_at`

func scanWithdrawal(row rowScanner) (*domain.Withdrawal, error) {
	var (
		w           domain.Withdrawal
		amount      string
		destination []byte
	)
	err := row.Scan(
		&w.ID, &w.ContributorID, &amount, &w.Currency, &destination, &w.Status, &w.AdminID, &w.AdminNote,
		&w.ExternalReference, &w.RejectionReason, &w.RequestedAt, &w.UpdatedAt, &w.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if len(destination) > 0 {
		if err := json.Unmarshal(destination, &w.Destination); err != nil {
			return nil, fmt.Errorf("decode destination: %w", err)
		}
	}
	return &w, nil
}

func (r *withdrawalRepo) CreateWithReserve(ctx context.Context, w *domain.Withdrawal) error {
	destination, err := json.Marshal(w.Destination)
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.WrapStore("begin withdrawal", err)
	}
	defer tx.Rollback(ctx)

	// Conditional decrement: concurrent requests re-check available after the row lock.
	var currency string
	err = tx.QueryRow(ctx, `
		UPDATE balances SET
			available = available - $2,
			reserved = reserved + $2,
			updated_at = NOW()
		WHERE contributor_id = $1 AND available >= $2
		RETURNING currency
	`, w.ContributorID, w.Amount.String()).Scan(&currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrInsufficientBalance
	}
	if err != nil {
		return domain.WrapStore("reserve funds", err)
	}
	if w.Currency == "" {
		w.Currency = currency
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO withdrawals (id, contributor_id, amount, currency, destination, status, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW(), NOW())
		RETURNING requested_at, updated_at
	`, w.ID, w.ContributorID, w.Amount.String(), w.Currency, destination).Scan(&w.RequestedAt, &w.UpdatedAt)
	if err != nil {
		if uniqueViolation(err) != "" {
			return domain.ErrPendingWithdrawalExists
		}
		return domain.WrapStore("insert withdrawal", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WrapStore("commit withdrawal", err)
	}
	w.Status = domain.WithdrawalStatusPending
	return nil
}

func (r *withdrawalRepo) Transition(ctx context.Context, id string, from domain.WithdrawalStatus, upd domain.WithdrawalUpdate) (*domain.Withdrawal, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, domain.WrapStore("begin withdrawal transition", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE withdrawals SET
			status = $3::text,
			admin_id = $4,
			admin_note = COALESCE($5, admin_note),
			external_reference = COALESCE($6, external_reference),
			rejection_reason = COALESCE($7, rejection_reason),
			updated_at = NOW(),
			processed_at = CASE WHEN $3::text IN ('completed', 'rejected') THEN NOW() ELSE processed_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + withdrawalColumns

	w, err := scanWithdrawal(tx.QueryRow(ctx, query,
		id, from, string(upd.To), upd.AdminID, nullable(upd.Note), nullable(upd.ExternalReference), nullable(upd.Reason),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM withdrawals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, domain.WrapStore("check withdrawal", err)
		}
		if !exists {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrConcurrentModification
	}
	if err != nil {
		return nil, domain.WrapStore("update withdrawal", err)
	}

	var balanceSQL string
	switch upd.To {
	case domain.WithdrawalStatusRejected:
		balanceSQL = `UPDATE balances SET reserved = reserved - $2, available = available + $2, updated_at = NOW()
			WHERE contributor_id = $1 AND reserved >= $2`
	case domain.WithdrawalStatusCompleted:
		balanceSQL = `UPDATE balances SET reserved = reserved - $2, total_withdrawn = total_withdrawn + $2, updated_at = NOW()
			WHERE contributor_id = $1 AND reserved >= $2`
	}
	if balanceSQL != "" {
		tag, err := tx.Exec(ctx, balanceSQL, w.ContributorID, w.Amount.String())
		if err != nil {
			return nil, domain.WrapStore("settle reservation", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, domain.WrapStore("settle reservation", fmt.Errorf("reserved funds for withdrawal %s are missing", id))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.WrapStore("commit withdrawal transition", err)
	}
	return w, nil
}

func (r *withdrawalRepo) GetByID(ctx context.Context, id string) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get withdrawal", err)
	}
	return w, nil
}

func (r *withdrawalRepo) List(ctx context.Context, f domain.WithdrawalFilter) ([]*domain.Withdrawal, error) {
	var (
		where []string
		args  []any
	)
	if f.ContributorID != "" {
		args = append(args, f.ContributorID)
		where = append(where, fmt.Sprintf("contributor_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY requested_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStore("list withdrawals", err)
	}
	defer rows.Close()

	var out []*domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, domain.WrapStore("scan withdrawal", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list withdrawals", err)
	}
	return out, nil
}

func (r *withdrawalRepo) GetInfo(ctx context.Context, contributorID string) (*domain.WithdrawalInfo, error) {
	var info domain.WithdrawalInfo
	err := r.db.QueryRow(ctx, `
		SELECT contributor_id, bank_name, account_name, account_number, branch_code, swift_code, updated_at
		FROM withdrawal_info WHERE contributor_id = $1
	`, contributorID).Scan(
		&info.ContributorID, &info.BankName, &info.AccountName, &info.AccountNumber,
		&info.BranchCode, &info.SwiftCode, &info.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundOr("get withdrawal info", err)
	}
	return &info, nil
}

func (r *withdrawalRepo) UpsertInfo(ctx context.Context, info *domain.WithdrawalInfo) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO withdrawal_info (contributor_id, bank_name, account_name, account_number, branch_code, swift_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (contributor_id) DO UPDATE SET
			bank_name = EXCLUDED.bank_name,
			account_name = EXCLUDED.account_name,
			account_number = EXCLUDED.account_number,
			branch_code = EXCLUDED.branch_code,
			swift_code = EXCLUDED.swift_code,
			updated_at = NOW()
		RETURNING updated_at
	`, info.ContributorID, info.BankName, info.AccountName, info.AccountNumber, info.BranchCode, info.SwiftCode).Scan(&info.UpdatedAt)
	if err != nil {
		return domain.WrapStore("upsert withdrawal info", err)
	}
	return nil
}
