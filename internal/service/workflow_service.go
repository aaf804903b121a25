package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
)

// PolicyDecision is the approval policy resolver's answer for one actor.
type PolicyDecision struct {
	Allowed      bool
	ApproverType string
}

// PolicyResolver decides whether an actor may review plans and under which
// approver type. The real implementation calls the policy service; the core
// treats it as a black box.
type PolicyResolver interface {
	Resolve(ctx context.Context, actorID string) (*PolicyDecision, error)
}

// ActivitySink receives workflow events as a best-effort side channel.
// Implementations must never block the workflow: failures are logged by the
// sink and never reach the caller.
type ActivitySink interface {
	Record(ctx context.Context, actorID, action, planCode string)
}

// submitRetries bounds the collision-retry loop around plan code generation.
const submitRetries = 3

// WorkflowService is the façade every external caller goes through. Each
// operation sequences the state machine check, the ledger effect and the
// approval record append inside one store transaction.
type WorkflowService struct {
	runner   TxRunner
	stores   Stores
	rec      *Reconciler
	policy   PolicyResolver
	activity ActivitySink
	log      zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	runner TxRunner,
	stores Stores,
	rec *Reconciler,
	policy PolicyResolver,
	activity ActivitySink,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		runner:   runner,
		stores:   stores,
		rec:      rec,
		policy:   policy,
		activity: activity,
		log:      log,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// CostDetailRequest is one cost/volume line carried with a submission.
type CostDetailRequest struct {
	SKU       string
	Volume    int64
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
}

// AttachmentRequest is one attachment reference carried with a submission.
type AttachmentRequest struct {
	FileName string
	FileURL  string
}

// SubmitRequest creates a plan. IdempotencyToken is client-generated and
// mandatory: submit is not naturally idempotent and a blind retry after a
// timeout would otherwise create a duplicate plan.
type SubmitRequest struct {
	IdempotencyToken string
	Family           string
	Description      *string
	RequestedAmount  decimal.Decimal
	AllocatedAmount  decimal.Decimal
	ParentBudgetCode *string
	CostDetails      []CostDetailRequest
	Attachments      []AttachmentRequest
	ActorID          string
}

// Submit creates the plan row and, for plans that own their budget, the
// budget account, in one transaction. Returns the generated plan code.
func (s *WorkflowService) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	if req.IdempotencyToken == "" {
		return "", apperr.InvalidInput("idempotency_token", "idempotency token is required")
	}
	if req.ActorID == "" {
		return "", apperr.InvalidInput("actor_id", "actor id is required")
	}
	switch req.Family {
	case repository.FamilyRegular, repository.FamilyCover,
		repository.FamilyCorporate, repository.FamilyUpload:
	default:
		return "", apperr.InvalidInput("family", "unknown plan family")
	}
	if req.RequestedAmount.IsNegative() {
		return "", apperr.InvalidInput("requested_amount", "requested amount cannot be negative")
	}
	if req.ParentBudgetCode == nil && req.AllocatedAmount.IsNegative() {
		return "", apperr.InvalidInput("allocated_amount", "allocated amount cannot be negative")
	}

	year := time.Now().UTC().Year()

	var code string
	var err error
	for attempt := 0; attempt < submitRetries; attempt++ {
		code, err = s.submitOnce(ctx, req, year)
		if err == nil {
			break
		}
		// Only a plan-code collision restarts the transaction; a reused
		// idempotency token is a real conflict for the caller.
		if !apperr.HasCode(err, apperr.CodeConflict) || apperr.Detail(err, "token") != "" {
			return "", err
		}
		s.log.Warn().Str("plan_code", code).Int("attempt", attempt+1).
			Msg("Plan code collision, retrying with fresh sequence")
	}
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("plan_code", code).
		Str("family", req.Family).
		Str("requested_amount", req.RequestedAmount.String()).
		Str("actor_id", req.ActorID).
		Msg("Plan submitted")
	s.recordActivity(ctx, req.ActorID, "plan_submitted", code)

	return code, nil
}

func (s *WorkflowService) submitOnce(ctx context.Context, req *SubmitRequest, year int) (string, error) {
	var code string
	err := s.runner.InTransaction(ctx, func(st Stores) error {
		seq, err := st.Codes.ReserveNext(ctx, req.Family, year)
		if err != nil {
			return err
		}
		code = fmt.Sprintf("%s%d-%03d", req.Family, year, seq)

		if err := st.Tokens.Claim(ctx, req.IdempotencyToken, code); err != nil {
			return err
		}

		if req.ParentBudgetCode != nil {
			// Parent-funded plans draw down an existing Cover pool instead of
			// owning an account.
			if _, err := st.Budgets.GetByOwner(ctx, *req.ParentBudgetCode); err != nil {
				return err
			}
		}

		plan := &repository.Plan{
			Code:             code,
			Family:           req.Family,
			Description:      req.Description,
			RequestedAmount:  req.RequestedAmount,
			ParentBudgetCode: req.ParentBudgetCode,
			CreatedBy:        req.ActorID,
		}
		if err := st.Plans.Create(ctx, plan); err != nil {
			return err
		}

		if req.ParentBudgetCode == nil {
			account := &repository.BudgetAccount{
				OwnerPlanCode:   code,
				AllocatedAmount: req.AllocatedAmount,
			}
			if err := st.Budgets.Create(ctx, account); err != nil {
				return err
			}
		}

		if len(req.CostDetails) > 0 {
			details := make([]*repository.PlanCostDetail, 0, len(req.CostDetails))
			for _, d := range req.CostDetails {
				details = append(details, &repository.PlanCostDetail{
					SKU:       d.SKU,
					Volume:    d.Volume,
					UnitCost:  d.UnitCost,
					TotalCost: d.TotalCost,
				})
			}
			if err := st.Details.InsertCostDetails(ctx, code, details); err != nil {
				return err
			}
		}
		if len(req.Attachments) > 0 {
			attachments := make([]*repository.PlanAttachment, 0, len(req.Attachments))
			for _, a := range req.Attachments {
				attachments = append(attachments, &repository.PlanAttachment{
					FileName: a.FileName,
					FileURL:  a.FileURL,
				})
			}
			if err := st.Details.InsertAttachments(ctx, code, attachments); err != nil {
				return err
			}
		}
		return nil
	})
	return code, err
}

// ── Review decisions ──────────────────────────────────────────────────────────

// Approve records an approval decision; the backing budget account is flagged
// in the same transaction.
func (s *WorkflowService) Approve(ctx context.Context, planCode, actorID string) error {
	return s.transition(ctx, planCode, actorID, StateApproved)
}

// Decline records a decline. No ledger effect: the plan never consumed budget.
func (s *WorkflowService) Decline(ctx context.Context, planCode, actorID string) error {
	return s.transition(ctx, planCode, actorID, StateDeclined)
}

// SendBack returns the plan to its submitter for revision. Not terminal.
func (s *WorkflowService) SendBack(ctx context.Context, planCode, actorID string) error {
	return s.transition(ctx, planCode, actorID, StateSentBack)
}

// Resubmit reopens review for a sent-back plan by appending a fresh
// unresponded record.
func (s *WorkflowService) Resubmit(ctx context.Context, planCode, actorID string) error {
	return s.transition(ctx, planCode, actorID, StatePending)
}

// Cancel cancels an approved plan, crediting a parent-funded plan's amount
// back to the parent pool. A second cancel fails with a conflict and credits
// nothing.
func (s *WorkflowService) Cancel(ctx context.Context, planCode, actorID string) error {
	return s.transition(ctx, planCode, actorID, StateCancelled)
}

func (s *WorkflowService) transition(ctx context.Context, planCode, actorID string, requested State) error {
	if planCode == "" {
		return apperr.InvalidInput("plan_code", "plan code is required")
	}
	if actorID == "" {
		return apperr.InvalidInput("actor_id", "actor id is required")
	}

	// Resubmission is the submitter's own action, not a review decision, so it
	// is gated on plan ownership inside the transaction instead of the
	// approval policy.
	var approverType string
	if requested != StatePending {
		pol, err := s.policy.Resolve(ctx, actorID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeDependency, "approval policy resolution failed")
		}
		if !pol.Allowed {
			return apperr.New(apperr.CodeUnauthorized, "actor is not permitted to review plans").
				WithDetail("actor_id", actorID)
		}
		approverType = pol.ApproverType
	}

	var decision *Decision
	err := s.runner.InTransaction(ctx, func(st Stores) error {
		// The row lock serializes racing reviewers: the loser re-reads the
		// winner's terminal state and fails the transition check.
		plan, err := st.Plans.GetByCodeForUpdate(ctx, planCode)
		if err != nil {
			return err
		}
		if requested == StatePending && plan.CreatedBy != actorID {
			return apperr.New(apperr.CodeUnauthorized, "only the submitter can resubmit a plan").
				WithDetail("actor_id", actorID).
				WithDetail("plan_code", planCode)
		}
		latest, err := st.Approvals.GetLatest(ctx, planCode)
		if err != nil {
			return err
		}
		decision, err = EvaluateTransition(plan, latest, requested, actorID, approverType)
		if err != nil {
			return err
		}
		if err := st.Approvals.Append(ctx, decision.Record()); err != nil {
			return err
		}
		return s.rec.ApplyDecision(ctx, st, decision)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("plan_code", planCode).
		Str("actor_id", actorID).
		Str("from", string(decision.From)).
		Str("to", string(decision.To)).
		Msg("Plan transition applied")
	s.recordActivity(ctx, actorID, "plan_"+string(requested), planCode)

	return nil
}

// ── Remove ────────────────────────────────────────────────────────────────────

// Remove hard-deletes a plan in a terminal state: the budget account is
// archived into ledger history and removed transactionally, then the
// dependent rows and the plan itself are cascade-deleted best-effort.
func (s *WorkflowService) Remove(ctx context.Context, planCode, actorID string) error {
	if planCode == "" {
		return apperr.InvalidInput("plan_code", "plan code is required")
	}
	if actorID == "" {
		return apperr.InvalidInput("actor_id", "actor id is required")
	}

	pol, err := s.policy.Resolve(ctx, actorID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "approval policy resolution failed")
	}
	if !pol.Allowed {
		return apperr.New(apperr.CodeUnauthorized, "actor is not permitted to remove plans").
			WithDetail("actor_id", actorID)
	}

	err = s.runner.InTransaction(ctx, func(st Stores) error {
		plan, err := st.Plans.GetByCodeForUpdate(ctx, planCode)
		if err != nil {
			return err
		}
		latest, err := st.Approvals.GetLatest(ctx, planCode)
		if err != nil {
			return err
		}
		if state := CurrentState(latest); !state.IsTerminal() {
			return apperr.Newf(apperr.CodeInvalidTransition,
				"plan cannot be removed from state %s", state).
				WithDetail("plan_code", planCode).
				WithDetail("current_state", string(state))
		}
		return s.rec.ArchiveAccount(ctx, st, plan, actorID)
	})
	if err != nil {
		return err
	}

	cascadeErr := s.rec.CascadeDelete(ctx, planCode)

	s.log.Info().
		Str("plan_code", planCode).
		Str("actor_id", actorID).
		Bool("cascade_complete", cascadeErr == nil).
		Msg("Plan removed")
	s.recordActivity(ctx, actorID, "plan_removed", planCode)

	return cascadeErr
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// PlanView is a plan with its derived state and, when it owns one, its budget
// account.
type PlanView struct {
	Plan         *repository.Plan
	CurrentState State
	Budget       *repository.BudgetAccount
	CostDetails  []*repository.PlanCostDetail
}

// GetPlan returns the plan, its derived state and its budget account.
func (s *WorkflowService) GetPlan(ctx context.Context, planCode string) (*PlanView, error) {
	plan, err := s.stores.Plans.GetByCode(ctx, planCode)
	if err != nil {
		return nil, err
	}
	latest, err := s.stores.Approvals.GetLatest(ctx, planCode)
	if err != nil {
		return nil, err
	}

	view := &PlanView{Plan: plan, CurrentState: CurrentState(latest)}

	if plan.ParentBudgetCode == nil {
		account, err := s.stores.Budgets.GetByOwner(ctx, planCode)
		if err != nil && !apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		view.Budget = account
	}

	details, err := s.stores.Details.ListCostDetails(ctx, planCode)
	if err != nil {
		return nil, err
	}
	view.CostDetails = details

	return view, nil
}

// ListPlans returns plans with derived state, filtered and paginated.
func (s *WorkflowService) ListPlans(ctx context.Context, family, state *string, page, pageSize int) ([]*repository.PlanWithState, int64, error) {
	offset := (page - 1) * pageSize
	return s.stores.Plans.List(ctx, family, state, pageSize, offset)
}

// ApprovalHistory returns the full decision log for a plan, oldest first.
func (s *WorkflowService) ApprovalHistory(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error) {
	if _, err := s.stores.Plans.GetByCode(ctx, planCode); err != nil {
		return nil, err
	}
	return s.stores.Approvals.ListByPlanCode(ctx, planCode)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// recordActivity hands the event to the sink after commit. The detached
// context keeps a caller hang-up from cancelling the publish; the sink owns
// its own timeout and swallows failures.
func (s *WorkflowService) recordActivity(ctx context.Context, actorID, action, planCode string) {
	if s.activity == nil {
		return
	}
	go s.activity.Record(context.WithoutCancel(ctx), actorID, action, planCode)
}
