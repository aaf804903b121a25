package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
)

// BudgetRepository handles budget accounts and their archival history.
// Balance mutation happens only through the conditional Credit update; the
// application never does read-modify-write on remaining_balance.
type BudgetRepository struct {
	q database.Querier
}

// NewBudgetRepository creates a new BudgetRepository.
func NewBudgetRepository(db *database.DB) *BudgetRepository {
	return &BudgetRepository{q: db}
}

// WithTx returns a copy bound to an open transaction.
func (r *BudgetRepository) WithTx(tx pgx.Tx) *BudgetRepository {
	return &BudgetRepository{q: tx}
}

// Create inserts a budget account. remaining_balance starts at the full
// allocation.
func (r *BudgetRepository) Create(ctx context.Context, account *BudgetAccount) error {
	query := `
		INSERT INTO budget_accounts
		    (owner_plan_code, allocated_amount, remaining_balance, approved_flag)
		VALUES ($1, $2, $2, false)
		RETURNING remaining_balance, approved_flag, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		account.OwnerPlanCode,
		account.AllocatedAmount,
	).Scan(&account.RemainingBalance, &account.ApprovedFlag, &account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.CodeConflict, "budget account already exists").
			WithDetail("plan_code", account.OwnerPlanCode)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to create budget account")
	}
	return nil
}

// GetByOwner retrieves the budget account owned by a plan.
func (r *BudgetRepository) GetByOwner(ctx context.Context, ownerPlanCode string) (*BudgetAccount, error) {
	query := `
		SELECT owner_plan_code, allocated_amount, remaining_balance, approved_flag,
		       created_at, updated_at
		FROM budget_accounts
		WHERE owner_plan_code = $1
	`

	account := &BudgetAccount{}
	err := r.q.QueryRow(ctx, query, ownerPlanCode).Scan(
		&account.OwnerPlanCode,
		&account.AllocatedAmount,
		&account.RemainingBalance,
		&account.ApprovedFlag,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("budget_account", ownerPlanCode)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to get budget account")
	}
	return account, nil
}

// SetApprovedFlag marks the account as backing an approved plan.
func (r *BudgetRepository) SetApprovedFlag(ctx context.Context, ownerPlanCode string) error {
	query := `
		UPDATE budget_accounts
		SET approved_flag = true,
		    updated_at    = NOW()
		WHERE owner_plan_code = $1
		RETURNING owner_plan_code
	`

	var code string
	err := r.q.QueryRow(ctx, query, ownerPlanCode).Scan(&code)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("budget_account", ownerPlanCode)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to flag budget account")
	}
	return nil
}

// Credit atomically adds amount back to the account's remaining balance. The
// update matches no row when the credit would push the balance past the
// allocation; that case is distinguished from a missing account and surfaced
// as an accounting-invariant violation, since it signals prior corruption.
func (r *BudgetRepository) Credit(ctx context.Context, ownerPlanCode string, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE budget_accounts
		SET remaining_balance = remaining_balance + $2,
		    updated_at        = NOW()
		WHERE owner_plan_code = $1
		  AND remaining_balance + $2 <= allocated_amount
		RETURNING remaining_balance
	`

	var balance decimal.Decimal
	err := r.q.QueryRow(ctx, query, ownerPlanCode, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		if _, getErr := r.GetByOwner(ctx, ownerPlanCode); getErr != nil {
			return decimal.Zero, getErr
		}
		return decimal.Zero, apperr.New(apperr.CodeAccountingInvariant,
			"credit would push remaining balance past the allocation").
			WithDetail("plan_code", ownerPlanCode).
			WithDetail("amount", amount.String())
	}
	if err != nil {
		return decimal.Zero, apperr.Wrap(err, apperr.CodeDependency, "failed to credit budget account")
	}
	return balance, nil
}

// Archive writes the account's final state into ledger_history. The history
// table is write-once; this is the only mutation it sees.
func (r *BudgetRepository) Archive(ctx context.Context, entry *LedgerHistoryEntry) error {
	query := `
		INSERT INTO ledger_history
		    (plan_code, action_type, allocated_amount, remaining_balance,
		     approved_flag, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.PlanCode,
		entry.ActionType,
		entry.AllocatedAmount,
		entry.RemainingBalance,
		entry.ApprovedFlag,
		entry.PerformedBy,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to archive budget account")
	}
	return nil
}

// DeleteByOwner removes the budget account. Missing rows are not an error
// here: parent-funded plans never owned one.
func (r *BudgetRepository) DeleteByOwner(ctx context.Context, ownerPlanCode string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM budget_accounts WHERE owner_plan_code = $1`, ownerPlanCode)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to delete budget account")
	}
	return nil
}
