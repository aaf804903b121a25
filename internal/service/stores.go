package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
)

// The workflow programs against these store interfaces so tests can swap the
// Postgres repositories for in-memory fakes.

// PlanStore persists plan rows.
type PlanStore interface {
	Create(ctx context.Context, plan *repository.Plan) error
	GetByCode(ctx context.Context, code string) (*repository.Plan, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*repository.Plan, error)
	List(ctx context.Context, family, state *string, limit, offset int) ([]*repository.PlanWithState, int64, error)
	Delete(ctx context.Context, code string) error
}

// BudgetStore persists budget accounts and their archival history.
type BudgetStore interface {
	Create(ctx context.Context, account *repository.BudgetAccount) error
	GetByOwner(ctx context.Context, ownerPlanCode string) (*repository.BudgetAccount, error)
	SetApprovedFlag(ctx context.Context, ownerPlanCode string) error
	Credit(ctx context.Context, ownerPlanCode string, amount decimal.Decimal) (decimal.Decimal, error)
	Archive(ctx context.Context, entry *repository.LedgerHistoryEntry) error
	DeleteByOwner(ctx context.Context, ownerPlanCode string) error
}

// ApprovalStore persists the append-only approval record log.
type ApprovalStore interface {
	Append(ctx context.Context, rec *repository.ApprovalRecord) error
	GetLatest(ctx context.Context, planCode string) (*repository.ApprovalRecord, error)
	ListByPlanCode(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error)
	DeleteByPlanCode(ctx context.Context, planCode string) (int64, error)
}

// DetailStore persists dependent plan rows.
type DetailStore interface {
	InsertCostDetails(ctx context.Context, planCode string, details []*repository.PlanCostDetail) error
	InsertAttachments(ctx context.Context, planCode string, attachments []*repository.PlanAttachment) error
	ListCostDetails(ctx context.Context, planCode string) ([]*repository.PlanCostDetail, error)
	DeleteCostDetails(ctx context.Context, planCode string) (int64, error)
	DeleteAttachments(ctx context.Context, planCode string) (int64, error)
}

// CodeStore reserves plan code sequence numbers.
type CodeStore interface {
	ReserveNext(ctx context.Context, prefix string, year int) (int, error)
}

// TokenStore persists submission idempotency tokens.
type TokenStore interface {
	Claim(ctx context.Context, token, planCode string) error
	Lookup(ctx context.Context, token string) (string, error)
}

// Stores bundles every store the workflow touches. Inside InTransaction the
// bundle is bound to the open transaction.
type Stores struct {
	Plans     PlanStore
	Budgets   BudgetStore
	Approvals ApprovalStore
	Details   DetailStore
	Codes     CodeStore
	Tokens    TokenStore
}

// TxRunner executes fn with a transaction-bound Stores bundle, committing on
// nil and rolling back on error. Every mutating workflow operation runs its
// read-validate-write sequence through exactly one InTransaction call.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(s Stores) error) error
}

// ── Postgres wiring ──────────────────────────────────────────────────────────

type pgRunner struct {
	db        *database.DB
	plans     *repository.PlanRepository
	budgets   *repository.BudgetRepository
	approvals *repository.ApprovalRepository
	details   *repository.DetailRepository
	codes     *repository.CodeRepository
	tokens    *repository.IdempotencyRepository
}

// NewPGRunner builds the production TxRunner over the pgx pool.
func NewPGRunner(db *database.DB) TxRunner {
	return &pgRunner{
		db:        db,
		plans:     repository.NewPlanRepository(db),
		budgets:   repository.NewBudgetRepository(db),
		approvals: repository.NewApprovalRepository(db),
		details:   repository.NewDetailRepository(db),
		codes:     repository.NewCodeRepository(db),
		tokens:    repository.NewIdempotencyRepository(db),
	}
}

func (r *pgRunner) InTransaction(ctx context.Context, fn func(s Stores) error) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(Stores{
			Plans:     r.plans.WithTx(tx),
			Budgets:   r.budgets.WithTx(tx),
			Approvals: r.approvals.WithTx(tx),
			Details:   r.details.WithTx(tx),
			Codes:     r.codes.WithTx(tx),
			Tokens:    r.tokens.WithTx(tx),
		})
	})
}

// NewPGStores builds the pool-bound Stores bundle used for reads and for the
// best-effort parts of the remove cascade.
func NewPGStores(db *database.DB) Stores {
	return Stores{
		Plans:     repository.NewPlanRepository(db),
		Budgets:   repository.NewBudgetRepository(db),
		Approvals: repository.NewApprovalRepository(db),
		Details:   repository.NewDetailRepository(db),
		Codes:     repository.NewCodeRepository(db),
		Tokens:    repository.NewIdempotencyRepository(db),
	}
}
