package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// CodeRepository reserves plan code sequence numbers. Reservation is a single
// upsert so concurrent submissions for the same prefix and year can never
// observe the same value.
type CodeRepository struct {
	q database.Querier
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(db *database.DB) *CodeRepository {
	return &CodeRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *CodeRepository) WithTx(tx pgx.Tx) *CodeRepository {
	return &CodeRepository{q: tx}
}

// ReserveNext atomically increments and returns the next sequence number for
// a prefix and year, starting at 1.
func (r *CodeRepository) ReserveNext(ctx context.Context, prefix string, year int) (int, error) {
	query := `
		INSERT INTO plan_code_sequences (prefix, year, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET last_seq = plan_code_sequences.last_seq + 1
		RETURNING last_seq
	`

	var seq int
	if err := r.q.QueryRow(ctx, query, prefix, year).Scan(&seq); err != nil {
		return 0, apperr.Wrap(err, apperr.CodeDependency, "failed to reserve plan code sequence")
	}
	return seq, nil
}
