package service

import (
	"time"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
)

// State is the derived lifecycle state of a plan, computed from its approval
// record log. It is never stored.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = repository.ResponseApproved
	StateDeclined  State = repository.ResponseDeclined
	StateSentBack  State = repository.ResponseSentBack
	StateCancelled State = repository.ResponseCancelled
)

// IsTerminal reports whether no further review decision is legal from s,
// except the single Approved → Cancelled transition.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateDeclined || s == StateCancelled
}

// CurrentState projects the latest approval record onto a state. No record,
// or a record whose review cycle is still open, means Pending.
func CurrentState(latest *repository.ApprovalRecord) State {
	if latest == nil || latest.Response == nil {
		return StatePending
	}
	switch *latest.Response {
	case repository.ResponseApproved:
		return StateApproved
	case repository.ResponseDeclined:
		return StateDeclined
	case repository.ResponseSentBack:
		return StateSentBack
	case repository.ResponseCancelled:
		return StateCancelled
	default:
		// Unknown responses are treated as an open cycle rather than guessed at.
		return StatePending
	}
}

// Decision describes the side effects the reconciler must apply for one legal
// transition. Evaluating a transition writes nothing.
type Decision struct {
	Plan         *repository.Plan
	From         State
	To           State
	ActorID      string
	ApproverType string
	DecidedAt    time.Time
}

// Record builds the approval record the decision appends to the log. A
// transition back to Pending (resubmission) opens a fresh unresponded cycle.
func (d *Decision) Record() *repository.ApprovalRecord {
	rec := &repository.ApprovalRecord{PlanCode: d.Plan.Code}
	if d.To == StatePending {
		return rec
	}
	response := string(d.To)
	decidedAt := d.DecidedAt
	rec.ApproverID = &d.ActorID
	rec.ApproverType = &d.ApproverType
	rec.Response = &response
	rec.RespondedAt = &decidedAt
	return rec
}

// EvaluateTransition validates that requested is legal from the plan's
// current state and returns the Decision to apply. Illegal transitions fail
// with an invalid-transition error and no side effects; a second cancellation
// is distinguished as a conflict so callers can treat it idempotently.
func EvaluateTransition(plan *repository.Plan, latest *repository.ApprovalRecord, requested State, actorID, approverType string) (*Decision, error) {
	switch requested {
	case StatePending, StateApproved, StateDeclined, StateSentBack, StateCancelled:
	default:
		return nil, apperr.InvalidInput("response", "unknown approval response")
	}

	current := CurrentState(latest)

	legal := false
	switch requested {
	case StateApproved, StateDeclined, StateSentBack:
		legal = current == StatePending
	case StateCancelled:
		if current == StateCancelled {
			return nil, apperr.New(apperr.CodeConflict, "plan is already cancelled").
				WithDetail("plan_code", plan.Code)
		}
		legal = current == StateApproved
	case StatePending:
		// Resubmission reopens review after a send-back.
		legal = current == StateSentBack
	}
	if !legal {
		return nil, apperr.InvalidTransition(plan.Code, string(current), string(requested))
	}

	return &Decision{
		Plan:         plan,
		From:         current,
		To:           requested,
		ActorID:      actorID,
		ApproverType: approverType,
		DecidedAt:    time.Now().UTC(),
	}, nil
}
