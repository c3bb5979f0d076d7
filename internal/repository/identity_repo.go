package repository

import (
	"context"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityRepository mirrors identity-provider subjects locally.
type IdentityRepository interface {
	// Upsert is the only path that creates or refreshes an identity row.
	Upsert(ctx context.Context, id domain.Identity) error
	Get(ctx context.Context, externalID string) (*domain.IdentityRecord, error)
}

type identityRepo struct {
	db *pgxpool.Pool
}

func NewIdentityRepository(db *pgxpool.Pool) IdentityRepository {
	return &identityRepo{db: db}
}

func (r *identityRepo) Upsert(ctx context.Context, id domain.Identity) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO identities (external_id, role, verified, first_seen, last_seen)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			role = EXCLUDED.role,
			verified = EXCLUDED.verified,
			last_seen = NOW()
	`, id.ExternalID, id.Role, id.Verified)
	if err != nil {
		return domain.WrapStore("upsert identity", err)
	}
	return nil
}

func (r *identityRepo) Get(ctx context.Context, externalID string) (*domain.IdentityRecord, error) {
	var rec domain.IdentityRecord
	err := r.db.QueryRow(ctx, `
		SELECT external_id, role, verified, first_seen, last_seen FROM identities WHERE external_id = $1
	`, externalID).Scan(&rec.ExternalID, &rec.Role, &rec.Verified, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		return nil, notFoundOr("get identity", err)
	}
	return &rec, nil
}
