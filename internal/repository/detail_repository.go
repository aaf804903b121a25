package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// DetailRepository handles the dependent rows carried with a plan: cost/volume
// detail lines and attachment references.
type DetailRepository struct {
	q database.Querier
}

// NewDetailRepository creates a new DetailRepository.
func NewDetailRepository(db *database.DB) *DetailRepository {
	return &DetailRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *DetailRepository) WithTx(tx pgx.Tx) *DetailRepository {
	return &DetailRepository{q: tx}
}

// InsertCostDetails inserts the cost detail lines for a plan.
func (r *DetailRepository) InsertCostDetails(ctx context.Context, planCode string, details []*PlanCostDetail) error {
	query := `
		INSERT INTO plan_cost_details
		    (plan_code, sku, volume, unit_cost, total_cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	for _, d := range details {
		d.PlanCode = planCode
		err := r.q.QueryRow(ctx, query,
			d.PlanCode, d.SKU, d.Volume, d.UnitCost, d.TotalCost,
		).Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeDependency, "failed to insert cost detail")
		}
	}
	return nil
}

// InsertAttachments inserts attachment references for a plan.
func (r *DetailRepository) InsertAttachments(ctx context.Context, planCode string, attachments []*PlanAttachment) error {
	query := `
		INSERT INTO plan_attachments
		    (plan_code, file_name, file_url)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	for _, a := range attachments {
		a.PlanCode = planCode
		err := r.q.QueryRow(ctx, query,
			a.PlanCode, a.FileName, a.FileURL,
		).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeDependency, "failed to insert attachment")
		}
	}
	return nil
}

// ListCostDetails returns the cost detail lines for a plan.
func (r *DetailRepository) ListCostDetails(ctx context.Context, planCode string) ([]*PlanCostDetail, error) {
	query := `
		SELECT id, plan_code, sku, volume, unit_cost, total_cost, created_at
		FROM plan_cost_details
		WHERE plan_code = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, planCode)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to list cost details")
	}
	defer rows.Close()

	var details []*PlanCostDetail
	for rows.Next() {
		d := &PlanCostDetail{}
		if err := rows.Scan(&d.ID, &d.PlanCode, &d.SKU, &d.Volume, &d.UnitCost, &d.TotalCost, &d.CreatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to scan cost detail")
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to list cost details")
	}
	return details, nil
}

// DeleteCostDetails removes all cost detail lines for a plan.
func (r *DetailRepository) DeleteCostDetails(ctx context.Context, planCode string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM plan_cost_details WHERE plan_code = $1`, planCode)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeDependency, "failed to delete cost details")
	}
	return tag.RowsAffected(), nil
}

// DeleteAttachments removes all attachment references for a plan.
func (r *DetailRepository) DeleteAttachments(ctx context.Context, planCode string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM plan_attachments WHERE plan_code = $1`, planCode)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeDependency, "failed to delete attachments")
	}
	return tag.RowsAffected(), nil
}
