// internal/repository/contract_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ContractRepository interface {
	Create(ctx context.Context, c *domain.Contract) error
	GetByID(ctx context.Context, id string) (*domain.Contract, error)
	GetByInvitationToken(ctx context.Context, token string) (*domain.Contract, error)
	List(ctx context.Context, filter domain.ContractFilter) ([]*domain.Contract, error)
	// Update writes the whole aggregate if the stored version still equals c.Version,
	// then bumps c.Version. A stale version yields domain.ErrConcurrentModification.
	Update(ctx context.Context, c *domain.Contract) error
	// Delete removes a draft at the expected version.
	Delete(ctx context.Context, id string, version int64) error
}

type contractRepo struct {
	db *pgxpool.Pool
}

func NewContractRepository(db *pgxpool.Pool) ContractRepository {
	return &contractRepo{db: db}
}

const contractColumns = `
	id, creator_id, COALESCE(contributor_id, ''), name, description, category, type, currency,
	budget::text, hourly_rate::text, weekly_hour_cap, due_date, platform_fee::text,
	split_milestones, status, status_reason, COALESCE(invitation_token, ''), milestones,
	version, created_at, updated_at`

func scanContract(row rowScanner) (*domain.Contract, error) {
	var (
		c            domain.Contract
		budget, rate string
		fee          *string
		milestones   []byte
	)
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.ContributorID, &c.Name, &c.Description, &c.Category, &c.Type, &c.Currency,
		&budget, &rate, &c.WeeklyHourCap, &c.DueDate, &fee,
		&c.SplitMilestones, &c.Status, &c.StatusReason, &c.InvitationToken, &milestones,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := parseAmounts(&c.Budget, budget, &c.HourlyRate, rate); err != nil {
		return nil, err
	}
	if fee != nil {
		d, err := parseAmount(*fee)
		if err != nil {
			return nil, err
		}
		c.PlatformFee = &d
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &c.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones: %w", err)
		}
	}
	if c.Milestones == nil {
		c.Milestones = []domain.Milestone{}
	}
	return &c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func feeParam(c *domain.Contract) *string {
	if c.PlatformFee == nil {
		return nil
	}
	s := c.PlatformFee.String()
	return &s
}

func (r *contractRepo) Create(ctx context.Context, c *domain.Contract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return fmt.Errorf("encode milestones: %w", err)
	}
	query := `
		INSERT INTO contracts (
			id, creator_id, contributor_id, name, description, category, type, currency,
			budget, hourly_rate, weekly_hour_cap, due_date, platform_fee, split_milestones,
			status, status_reason, invitation_token, milestones, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1,$19,$19)
	`
	now := time.Now().UTC()
	_, err = r.db.Exec(ctx, query,
		c.ID, c.CreatorID, nullable(c.ContributorID), c.Name, c.Description, c.Category, c.Type, c.Currency,
		c.Budget.String(), c.HourlyRate.String(), c.WeeklyHourCap, c.DueDate, feeParam(c), c.SplitMilestones,
		c.Status, c.StatusReason, nullable(c.InvitationToken), milestones, now,
	)
	if err != nil {
		return domain.WrapStore("create contract", err)
	}
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

func (r *contractRepo) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	c, err := scanContract(r.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get contract", err)
	}
	return c, nil
}

func (r *contractRepo) GetByInvitationToken(ctx context.Context, token string) (*domain.Contract, error) {
	c, err := scanContract(r.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE invitation_token = $1`, token))
	if err != nil {
		return nil, notFoundOr("get contract by invitation", err)
	}
	return c, nil
}

func (r *contractRepo) List(ctx context.Context, f domain.ContractFilter) ([]*domain.Contract, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PartyID != "" {
		p := arg(f.PartyID)
		switch f.AsRole {
		case "creator":
			where = append(where, "creator_id = "+p)
		case "contributor":
			where = append(where, "contributor_id = "+p)
		default:
			where = append(where, "(creator_id = "+p+" OR contributor_id = "+p+")")
		}
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStore("list contracts", err)
	}
	defer rows.Close()

	var out []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, domain.WrapStore("scan contract", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list contracts", err)
	}
	return out, nil
}

func (r *contractRepo) Update(ctx context.Context, c *domain.Contract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return fmt.Errorf("encode milestones: %w", err)
	}
	query := `
		UPDATE contracts SET
			contributor_id = $3, name = $4, description = $5, category = $6, type = $7, currency = $8,
			budget = $9, hourly_rate = $10, weekly_hour_cap = $11, due_date = $12, platform_fee = $13,
			split_milestones = $14, status = $15, status_reason = $16, invitation_token = $17,
			milestones = $18, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		c.ID, c.Version,
		nullable(c.ContributorID), c.Name, c.Description, c.Category, c.Type, c.Currency,
		c.Budget.String(), c.HourlyRate.String(), c.WeeklyHourCap, c.DueDate, feeParam(c),
		c.SplitMilestones, c.Status, c.StatusReason, nullable(c.InvitationToken), milestones,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.staleOrMissing(ctx, c.ID)
	}
	if err != nil {
		return domain.WrapStore("update contract", err)
	}
	return nil
}

func (r *contractRepo) Delete(ctx context.Context, id string, version int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM contracts WHERE id = $1 AND version = $2 AND status = 'draft'`, id, version)
	if err != nil {
		return domain.WrapStore("delete contract", err)
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

// staleOrMissing tells a lost compare-and-set apart from a row that never existed.
func (r *contractRepo) staleOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contracts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.WrapStore("check contract", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConcurrentModification
}
