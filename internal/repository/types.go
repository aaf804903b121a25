package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the PWP approval workflow ───────────────────────────────

// Plan families. The prefix is the first character of the plan code.
const (
	FamilyRegular   = "R"
	FamilyCover     = "V"
	FamilyCorporate = "C"
	FamilyUpload    = "U"
)

// Approval responses recorded against a plan. A record with no response yet
// represents an open Pending review cycle.
const (
	ResponseApproved  = "approved"
	ResponseDeclined  = "declined"
	ResponseSentBack  = "sent_back"
	ResponseCancelled = "cancelled"
)

// Plan is a promotional spend request. Immutable after submission except
// through the workflow operations.
type Plan struct {
	Code             string          // <Prefix><Year>-<Sequence>, unique
	Family           string          // R | V | C | U
	Description      *string
	RequestedAmount  decimal.Decimal
	ParentBudgetCode *string // set when the plan draws down a Cover plan's budget
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BudgetAccount is the ledger row for a plan that owns its own budget pool.
// remaining_balance is constrained to [0, allocated_amount] by the store.
type BudgetAccount struct {
	OwnerPlanCode    string
	AllocatedAmount  decimal.Decimal
	RemainingBalance decimal.Decimal
	ApprovedFlag     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ApprovalRecord is one decision event for a plan. The log is append-only;
// the latest record is authoritative for the plan's current state.
type ApprovalRecord struct {
	ID           string
	PlanCode     string
	ApproverID   *string
	ApproverType *string
	Response     *string // nil while the review cycle is open
	RespondedAt  *time.Time
	CreatedAt    time.Time
}

// LedgerHistoryEntry is the write-once archival snapshot of a budget account
// taken at the moment the account (or its owner) is removed.
type LedgerHistoryEntry struct {
	ID               string
	PlanCode         string
	ActionType       string // currently always "DELETE"
	AllocatedAmount  decimal.Decimal
	RemainingBalance decimal.Decimal
	ApprovedFlag     bool
	PerformedBy      string
	PerformedAt      time.Time
}

// PlanCostDetail is a dependent cost/volume line carried with a plan. The
// workflow performs no computation on these; they cascade-delete with the plan.
type PlanCostDetail struct {
	ID        string
	PlanCode  string
	SKU       string
	Volume    int64
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	CreatedAt time.Time
}

// PlanAttachment is a file reference attached to a plan. Upload and storage
// of the file body is outside this service.
type PlanAttachment struct {
	ID        string
	PlanCode  string
	FileName  string
	FileURL   string
	CreatedAt time.Time
}
