package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PlanRepository handles plan row CRUD. The plan row itself carries no
// lifecycle state; that is derived from the approval record log.
type PlanRepository struct {
	q database.Querier
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *database.DB) *PlanRepository {
	return &PlanRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *PlanRepository) WithTx(tx pgx.Tx) *PlanRepository {
	return &PlanRepository{q: tx}
}

// Create inserts a plan row. A code collision surfaces as a conflict error so
// the caller can retry with a freshly reserved sequence.
func (r *PlanRepository) Create(ctx context.Context, plan *Plan) error {
	query := `
		INSERT INTO plans
		    (code, family, description, requested_amount, parent_budget_code, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		plan.Code,
		plan.Family,
		plan.Description,
		plan.RequestedAmount,
		plan.ParentBudgetCode,
		plan.CreatedBy,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.CodeConflict, "plan code already exists").
			WithDetail("plan_code", plan.Code)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to create plan")
	}
	return nil
}

const planColumns = `
	code, family, description, requested_amount, parent_budget_code,
	created_by, created_at, updated_at
`

// GetByCode retrieves a plan by its code.
func (r *PlanRepository) GetByCode(ctx context.Context, code string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE code = $1`
	return r.scanPlan(ctx, query, code)
}

// GetByCodeForUpdate retrieves a plan and takes a row lock on it, serializing
// concurrent workflow actions against the same plan. Only meaningful inside a
// transaction.
func (r *PlanRepository) GetByCodeForUpdate(ctx context.Context, code string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE code = $1 FOR UPDATE`
	return r.scanPlan(ctx, query, code)
}

func (r *PlanRepository) scanPlan(ctx context.Context, query, code string) (*Plan, error) {
	plan := &Plan{}
	err := r.q.QueryRow(ctx, query, code).Scan(
		&plan.Code,
		&plan.Family,
		&plan.Description,
		&plan.RequestedAmount,
		&plan.ParentBudgetCode,
		&plan.CreatedBy,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("plan", code)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to get plan")
	}
	return plan, nil
}

// PlanWithState is a plan joined with its derived current state for listing.
type PlanWithState struct {
	Plan
	CurrentState string
}

// List returns plans with their derived state, newest first. family and state
// filter when non-nil; state filters on the derived value.
func (r *PlanRepository) List(ctx context.Context, family, state *string, limit, offset int) ([]*PlanWithState, int64, error) {
	query := `
		SELECT p.code, p.family, p.description, p.requested_amount, p.parent_budget_code,
		       p.created_by, p.created_at, p.updated_at,
		       COALESCE(latest.response, 'pending') AS current_state,
		       COUNT(*) OVER() AS total
		FROM plans p
		LEFT JOIN LATERAL (
			SELECT response
			FROM approval_records
			WHERE plan_code = p.code
			ORDER BY created_at DESC
			LIMIT 1
		) latest ON true
		WHERE ($1::text IS NULL OR p.family = $1)
		  AND ($2::text IS NULL OR COALESCE(latest.response, 'pending') = $2)
		ORDER BY p.created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.q.Query(ctx, query, family, state, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeDependency, "failed to list plans")
	}
	defer rows.Close()

	var plans []*PlanWithState
	var total int64
	for rows.Next() {
		p := &PlanWithState{}
		err := rows.Scan(
			&p.Code,
			&p.Family,
			&p.Description,
			&p.RequestedAmount,
			&p.ParentBudgetCode,
			&p.CreatedBy,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.CurrentState,
			&total,
		)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeDependency, "failed to scan plan")
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeDependency, "failed to list plans")
	}
	return plans, total, nil
}

// Delete removes the plan row. Callers archive the budget account first.
func (r *PlanRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM plans WHERE code = $1`, code)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to delete plan")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("plan", code)
	}
	return nil
}
