package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
)

// Reconciler applies the monetary side effects of workflow decisions to the
// budget ledger. It never evaluates transitions itself; the state machine
// decides, the reconciler executes.
type Reconciler struct {
	stores Stores
	log    zerolog.Logger
}

// NewReconciler creates a Reconciler. stores must be pool-bound; it is used
// only for the best-effort parts of the remove cascade, which deliberately
// run outside the workflow transaction.
func NewReconciler(stores Stores, log zerolog.Logger) *Reconciler {
	return &Reconciler{stores: stores, log: log}
}

// ApplyDecision mutates the ledger for one legal transition. s must be bound
// to the same transaction that appends the approval record.
//
// Approval flags the backing account. Cancellation of a parent-funded plan
// credits the requested amount back to the parent pool. Declines and
// send-backs never consumed budget, so they have no ledger effect.
func (r *Reconciler) ApplyDecision(ctx context.Context, s Stores, d *Decision) error {
	switch d.To {
	case StateApproved:
		target := d.Plan.Code
		if d.Plan.ParentBudgetCode != nil {
			target = *d.Plan.ParentBudgetCode
		}
		return s.Budgets.SetApprovedFlag(ctx, target)

	case StateCancelled:
		if d.Plan.ParentBudgetCode == nil {
			return nil
		}
		balance, err := s.Budgets.Credit(ctx, *d.Plan.ParentBudgetCode, d.Plan.RequestedAmount)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeAccountingInvariant) {
				// Never clamp silently: an overflowing credit means the ledger
				// was already corrupt upstream.
				r.log.Error().
					Str("plan_code", d.Plan.Code).
					Str("parent_budget_code", *d.Plan.ParentBudgetCode).
					Str("amount", d.Plan.RequestedAmount.String()).
					Msg("Balance credit would exceed allocation")
			}
			return err
		}
		r.log.Info().
			Str("plan_code", d.Plan.Code).
			Str("parent_budget_code", *d.Plan.ParentBudgetCode).
			Str("remaining_balance", balance.String()).
			Msg("Budget credited back on cancellation")
		return nil

	default:
		return nil
	}
}

// ArchiveAccount snapshots the plan's budget account into ledger history and
// removes the account. Parent-funded plans never owned an account; that case
// is a no-op. s must be transaction-bound.
func (r *Reconciler) ArchiveAccount(ctx context.Context, s Stores, plan *repository.Plan, actorID string) error {
	account, err := s.Budgets.GetByOwner(ctx, plan.Code)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}

	entry := &repository.LedgerHistoryEntry{
		PlanCode:         account.OwnerPlanCode,
		ActionType:       "DELETE",
		AllocatedAmount:  account.AllocatedAmount,
		RemainingBalance: account.RemainingBalance,
		ApprovedFlag:     account.ApprovedFlag,
		PerformedBy:      actorID,
	}
	if err := s.Budgets.Archive(ctx, entry); err != nil {
		return err
	}
	return s.Budgets.DeleteByOwner(ctx, plan.Code)
}

// CascadeDelete removes every dependent row for a plan and finally the plan
// itself. Each dependent deletion is attempted independently; a failure is
// collected and reported but does not stop the other deletions. Losing track
// of a row is worse than an incomplete cascade, so failures are surfaced to
// the caller rather than swallowed.
func (r *Reconciler) CascadeDelete(ctx context.Context, planCode string) error {
	var failures []error

	if _, err := r.stores.Details.DeleteCostDetails(ctx, planCode); err != nil {
		r.log.Warn().Err(err).Str("plan_code", planCode).Msg("Cost detail cascade failed")
		failures = append(failures, err)
	}
	if _, err := r.stores.Details.DeleteAttachments(ctx, planCode); err != nil {
		r.log.Warn().Err(err).Str("plan_code", planCode).Msg("Attachment cascade failed")
		failures = append(failures, err)
	}
	if _, err := r.stores.Approvals.DeleteByPlanCode(ctx, planCode); err != nil {
		r.log.Warn().Err(err).Str("plan_code", planCode).Msg("Approval record cascade failed")
		failures = append(failures, err)
	}

	// Dependent rows reference plans(code), so the plan row can only go once
	// every dependent leg succeeded. Leaving it in place keeps the surviving
	// rows reachable for a retried removal.
	if len(failures) > 0 {
		return apperr.Wrap(errors.Join(failures...), apperr.CodeDependency,
			"remove cascade incomplete").WithDetail("plan_code", planCode)
	}

	if err := r.stores.Plans.Delete(ctx, planCode); err != nil {
		r.log.Warn().Err(err).Str("plan_code", planCode).Msg("Plan row deletion failed")
		return apperr.Wrap(err, apperr.CodeDependency,
			"remove cascade incomplete").WithDetail("plan_code", planCode)
	}
	return nil
}
