package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
)

// memState is the shared backing for the in-memory store fakes. The fake
// TxRunner serializes transactions with txMu, mirroring the serializable
// boundary the Postgres runner provides.
type memState struct {
	txMu sync.Mutex
	mu   sync.Mutex

	plans       map[string]*repository.Plan
	budgets     map[string]*repository.BudgetAccount
	records     []*repository.ApprovalRecord
	details     map[string][]*repository.PlanCostDetail
	attachments map[string][]*repository.PlanAttachment
	history     []*repository.LedgerHistoryEntry
	seqs        map[string]int
	tokens      map[string]string
	recSeq      int

	failCostDetailDelete bool
}

func newMemState() *memState {
	return &memState{
		plans:       make(map[string]*repository.Plan),
		budgets:     make(map[string]*repository.BudgetAccount),
		details:     make(map[string][]*repository.PlanCostDetail),
		attachments: make(map[string][]*repository.PlanAttachment),
		seqs:        make(map[string]int),
		tokens:      make(map[string]string),
	}
}

func newMemStores(s *memState) Stores {
	return Stores{
		Plans:     &memPlans{s},
		Budgets:   &memBudgets{s},
		Approvals: &memApprovals{s},
		Details:   &memDetails{s},
		Codes:     &memCodes{s},
		Tokens:    &memTokens{s},
	}
}

type memRunner struct {
	s      *memState
	stores Stores
}

func newMemRunner(s *memState) *memRunner {
	return &memRunner{s: s, stores: newMemStores(s)}
}

func (r *memRunner) InTransaction(ctx context.Context, fn func(s Stores) error) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()
	return fn(r.stores)
}

// ── PlanStore ─────────────────────────────────────────────────────────────────

type memPlans struct{ s *memState }

func (m *memPlans) Create(ctx context.Context, plan *repository.Plan) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.plans[plan.Code]; ok {
		return apperr.New(apperr.CodeConflict, "plan code already exists").
			WithDetail("plan_code", plan.Code)
	}
	plan.CreatedAt = time.Now().UTC()
	plan.UpdatedAt = plan.CreatedAt
	cp := *plan
	m.s.plans[plan.Code] = &cp
	return nil
}

func (m *memPlans) GetByCode(ctx context.Context, code string) (*repository.Plan, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	plan, ok := m.s.plans[code]
	if !ok {
		return nil, apperr.NotFound("plan", code)
	}
	cp := *plan
	return &cp, nil
}

func (m *memPlans) GetByCodeForUpdate(ctx context.Context, code string) (*repository.Plan, error) {
	return m.GetByCode(ctx, code)
}

func (m *memPlans) List(ctx context.Context, family, state *string, limit, offset int) ([]*repository.PlanWithState, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*repository.PlanWithState
	for _, plan := range m.s.plans {
		if family != nil && plan.Family != *family {
			continue
		}
		out = append(out, &repository.PlanWithState{Plan: *plan, CurrentState: string(StatePending)})
	}
	return out, int64(len(out)), nil
}

func (m *memPlans) Delete(ctx context.Context, code string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.plans[code]; !ok {
		return apperr.NotFound("plan", code)
	}
	delete(m.s.plans, code)
	return nil
}

// ── BudgetStore ───────────────────────────────────────────────────────────────

type memBudgets struct{ s *memState }

func (m *memBudgets) Create(ctx context.Context, account *repository.BudgetAccount) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.budgets[account.OwnerPlanCode]; ok {
		return apperr.New(apperr.CodeConflict, "budget account already exists")
	}
	account.RemainingBalance = account.AllocatedAmount
	cp := *account
	m.s.budgets[account.OwnerPlanCode] = &cp
	return nil
}

func (m *memBudgets) GetByOwner(ctx context.Context, ownerPlanCode string) (*repository.BudgetAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	account, ok := m.s.budgets[ownerPlanCode]
	if !ok {
		return nil, apperr.NotFound("budget_account", ownerPlanCode)
	}
	cp := *account
	return &cp, nil
}

func (m *memBudgets) SetApprovedFlag(ctx context.Context, ownerPlanCode string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	account, ok := m.s.budgets[ownerPlanCode]
	if !ok {
		return apperr.NotFound("budget_account", ownerPlanCode)
	}
	account.ApprovedFlag = true
	return nil
}

func (m *memBudgets) Credit(ctx context.Context, ownerPlanCode string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	account, ok := m.s.budgets[ownerPlanCode]
	if !ok {
		return decimal.Zero, apperr.NotFound("budget_account", ownerPlanCode)
	}
	next := account.RemainingBalance.Add(amount)
	if next.GreaterThan(account.AllocatedAmount) {
		return decimal.Zero, apperr.New(apperr.CodeAccountingInvariant,
			"credit would push remaining balance past the allocation")
	}
	account.RemainingBalance = next
	return next, nil
}

func (m *memBudgets) Archive(ctx context.Context, entry *repository.LedgerHistoryEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	entry.ID = fmt.Sprintf("hist-%d", len(m.s.history)+1)
	entry.PerformedAt = time.Now().UTC()
	cp := *entry
	m.s.history = append(m.s.history, &cp)
	return nil
}

func (m *memBudgets) DeleteByOwner(ctx context.Context, ownerPlanCode string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.budgets, ownerPlanCode)
	return nil
}

// ── ApprovalStore ─────────────────────────────────────────────────────────────

type memApprovals struct{ s *memState }

func (m *memApprovals) Append(ctx context.Context, rec *repository.ApprovalRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.recSeq++
	rec.ID = fmt.Sprintf("rec-%d", m.s.recSeq)
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.s.records = append(m.s.records, &cp)
	return nil
}

func (m *memApprovals) GetLatest(ctx context.Context, planCode string) (*repository.ApprovalRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := len(m.s.records) - 1; i >= 0; i-- {
		if m.s.records[i].PlanCode == planCode {
			cp := *m.s.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memApprovals) ListByPlanCode(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*repository.ApprovalRecord
	for _, rec := range m.s.records {
		if rec.PlanCode == planCode {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memApprovals) DeleteByPlanCode(ctx context.Context, planCode string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var kept []*repository.ApprovalRecord
	var removed int64
	for _, rec := range m.s.records {
		if rec.PlanCode == planCode {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.s.records = kept
	return removed, nil
}

// ── DetailStore ───────────────────────────────────────────────────────────────

type memDetails struct{ s *memState }

func (m *memDetails) InsertCostDetails(ctx context.Context, planCode string, details []*repository.PlanCostDetail) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, d := range details {
		cp := *d
		cp.PlanCode = planCode
		m.s.details[planCode] = append(m.s.details[planCode], &cp)
	}
	return nil
}

func (m *memDetails) InsertAttachments(ctx context.Context, planCode string, attachments []*repository.PlanAttachment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range attachments {
		cp := *a
		cp.PlanCode = planCode
		m.s.attachments[planCode] = append(m.s.attachments[planCode], &cp)
	}
	return nil
}

func (m *memDetails) ListCostDetails(ctx context.Context, planCode string) ([]*repository.PlanCostDetail, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]*repository.PlanCostDetail(nil), m.s.details[planCode]...), nil
}

func (m *memDetails) DeleteCostDetails(ctx context.Context, planCode string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failCostDetailDelete {
		return 0, apperr.New(apperr.CodeDependency, "cost detail store unavailable")
	}
	n := int64(len(m.s.details[planCode]))
	delete(m.s.details, planCode)
	return n, nil
}

func (m *memDetails) DeleteAttachments(ctx context.Context, planCode string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := int64(len(m.s.attachments[planCode]))
	delete(m.s.attachments, planCode)
	return n, nil
}

// ── CodeStore ─────────────────────────────────────────────────────────────────

type memCodes struct{ s *memState }

func (m *memCodes) ReserveNext(ctx context.Context, prefix string, year int) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := fmt.Sprintf("%s-%d", prefix, year)
	m.s.seqs[key]++
	return m.s.seqs[key], nil
}

// ── TokenStore ────────────────────────────────────────────────────────────────

type memTokens struct{ s *memState }

func (m *memTokens) Claim(ctx context.Context, token, planCode string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.tokens[token]; ok {
		return apperr.New(apperr.CodeConflict, "idempotency token already used").
			WithDetail("token", token).
			WithDetail("plan_code", existing)
	}
	m.s.tokens[token] = planCode
	return nil
}

func (m *memTokens) Lookup(ctx context.Context, token string) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.tokens[token], nil
}

// ── Collaborator fakes ────────────────────────────────────────────────────────

type fakePolicy struct {
	denied map[string]bool
	err    error
}

func (p *fakePolicy) Resolve(ctx context.Context, actorID string) (*PolicyDecision, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.denied[actorID] {
		return &PolicyDecision{Allowed: false}, nil
	}
	return &PolicyDecision{Allowed: true, ApproverType: "manager"}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	actions []string
}

func (s *fakeSink) Record(ctx context.Context, actorID, action, planCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}
