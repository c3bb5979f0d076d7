package repository

import (
	"errors"
	"fmt"

	"contract-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// uniqueViolation returns the violated constraint name, or "" when err is something else.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == "" {
			return "unknown"
		}
		return pgErr.ConstraintName
	}
	return ""
}

// notFoundOr maps pgx.ErrNoRows to domain.ErrNotFound and wraps everything else as a store failure.
func notFoundOr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return domain.WrapStore(op, err)
}

// Amounts travel as text to keep NUMERIC precision exact.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func parseAmounts(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		dst := pairs[i].(*decimal.Decimal)
		src := pairs[i+1].(string)
		d, err := parseAmount(src)
		if err != nil {
			return err
		}
		*dst = d
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
