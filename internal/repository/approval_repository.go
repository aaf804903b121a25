package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// ApprovalRepository appends and reads the approval record log. The log is
// insert-only: decisions are never updated in place, the latest record is
// authoritative and the rest is audit history.
type ApprovalRepository struct {
	q database.Querier
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *ApprovalRepository) WithTx(tx pgx.Tx) *ApprovalRepository {
	return &ApprovalRepository{q: tx}
}

const approvalColumns = `
	id, plan_code, approver_id, approver_type, response, responded_at, created_at
`

// Append inserts one approval record.
func (r *ApprovalRepository) Append(ctx context.Context, rec *ApprovalRecord) error {
	query := `
		INSERT INTO approval_records
		    (plan_code, approver_id, approver_type, response, responded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		rec.PlanCode,
		rec.ApproverID,
		rec.ApproverType,
		rec.Response,
		rec.RespondedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to append approval record")
	}
	return nil
}

// GetLatest returns the most recent record for a plan, or nil when the plan
// has no records yet (initial Pending state).
func (r *ApprovalRepository) GetLatest(ctx context.Context, planCode string) (*ApprovalRecord, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_records
		WHERE plan_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	rec, err := r.scanRecord(r.q.QueryRow(ctx, query, planCode))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to get latest approval record")
	}
	return rec, nil
}

// ListByPlanCode returns the full decision history oldest-first.
func (r *ApprovalRepository) ListByPlanCode(ctx context.Context, planCode string) ([]*ApprovalRecord, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_records
		WHERE plan_code = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, planCode)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to list approval records")
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to list approval records")
	}
	return records, nil
}

// DeleteByPlanCode removes the log for a plan as part of the remove cascade.
func (r *ApprovalRepository) DeleteByPlanCode(ctx context.Context, planCode string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM approval_records WHERE plan_code = $1`, planCode)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeDependency, "failed to delete approval records")
	}
	return tag.RowsAffected(), nil
}

type recordScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanRecord(row recordScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.PlanCode,
		&rec.ApproverID,
		&rec.ApproverType,
		&rec.Response,
		&rec.RespondedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
