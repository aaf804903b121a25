package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// IdempotencyRepository stores client-supplied submission tokens. Submit is
// not naturally idempotent, so a reused token must fail the whole submission
// transaction instead of creating a duplicate plan.
type IdempotencyRepository struct {
	q database.Querier
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(db *database.DB) *IdempotencyRepository {
	return &IdempotencyRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *IdempotencyRepository) WithTx(tx pgx.Tx) *IdempotencyRepository {
	return &IdempotencyRepository{q: tx}
}

// Claim records a token against the plan it created. A reused token surfaces
// as a conflict carrying the plan code from the original submission.
func (r *IdempotencyRepository) Claim(ctx context.Context, token, planCode string) error {
	// ON CONFLICT DO NOTHING keeps the surrounding transaction usable after a
	// reuse, so the conflict can report the original plan code.
	query := `
		INSERT INTO submission_tokens (token, plan_code)
		VALUES ($1, $2)
		ON CONFLICT (token) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query, token, planCode)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to claim idempotency token")
	}
	if tag.RowsAffected() == 0 {
		existing, lookupErr := r.Lookup(ctx, token)
		conflict := apperr.New(apperr.CodeConflict, "idempotency token already used").
			WithDetail("token", token)
		if lookupErr == nil && existing != "" {
			conflict = conflict.WithDetail("plan_code", existing)
		}
		return conflict
	}
	return nil
}

// Lookup returns the plan code a token was used for, or "" when unused.
func (r *IdempotencyRepository) Lookup(ctx context.Context, token string) (string, error) {
	var planCode string
	err := r.q.QueryRow(ctx,
		`SELECT plan_code FROM submission_tokens WHERE token = $1`, token,
	).Scan(&planCode)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeDependency, "failed to look up idempotency token")
	}
	return planCode, nil
}
