package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
	"github.com/tradepromo/be-pwp-workflow/internal/service"
)

// WorkflowAPI is the façade surface the handler exposes over HTTP.
type WorkflowAPI interface {
	Submit(ctx context.Context, req *service.SubmitRequest) (string, error)
	Approve(ctx context.Context, planCode, actorID string) error
	Decline(ctx context.Context, planCode, actorID string) error
	SendBack(ctx context.Context, planCode, actorID string) error
	Resubmit(ctx context.Context, planCode, actorID string) error
	Cancel(ctx context.Context, planCode, actorID string) error
	Remove(ctx context.Context, planCode, actorID string) error
	GetPlan(ctx context.Context, planCode string) (*service.PlanView, error)
	ListPlans(ctx context.Context, family, state *string, page, pageSize int) ([]*repository.PlanWithState, int64, error)
	ApprovalHistory(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error)
}

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	service WorkflowAPI
	log     zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(service WorkflowAPI, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, log: log}
}

// ── Request/response bodies ───────────────────────────────────────────────────

type costDetailBody struct {
	SKU       string          `json:"sku"`
	Volume    int64           `json:"volume"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type attachmentBody struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

type submitBody struct {
	Family           string           `json:"family"`
	Description      *string          `json:"description,omitempty"`
	RequestedAmount  decimal.Decimal  `json:"requested_amount"`
	AllocatedAmount  decimal.Decimal  `json:"allocated_amount"`
	ParentBudgetCode *string          `json:"parent_budget_code,omitempty"`
	CostDetails      []costDetailBody `json:"cost_details,omitempty"`
	Attachments      []attachmentBody `json:"attachments,omitempty"`
}

type decisionBody struct {
	Code string `json:"code"`
}

type planResponse struct {
	Code             string          `json:"code"`
	Family           string          `json:"family"`
	Description      *string         `json:"description,omitempty"`
	RequestedAmount  decimal.Decimal `json:"requested_amount"`
	ParentBudgetCode *string         `json:"parent_budget_code,omitempty"`
	CurrentState     string          `json:"current_state"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

type budgetResponse struct {
	OwnerPlanCode    string          `json:"owner_plan_code"`
	AllocatedAmount  decimal.Decimal `json:"allocated_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	ApprovedFlag     bool            `json:"approved_flag"`
}

type approvalRecordResponse struct {
	ID           string     `json:"id"`
	PlanCode     string     `json:"plan_code"`
	ApproverID   *string    `json:"approver_id,omitempty"`
	ApproverType *string    `json:"approver_type,omitempty"`
	Response     *string    `json:"response,omitempty"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ── Plan endpoints ────────────────────────────────────────────────────────────

// SubmitPlan handles POST /api/v1/plans.
func (h *HTTPHandler) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Actor-ID")
	token := r.Header.Get("X-Idempotency-Key")

	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	req := &service.SubmitRequest{
		IdempotencyToken: token,
		Family:           body.Family,
		Description:      body.Description,
		RequestedAmount:  body.RequestedAmount,
		AllocatedAmount:  body.AllocatedAmount,
		ParentBudgetCode: body.ParentBudgetCode,
		ActorID:          actorID,
	}
	for _, d := range body.CostDetails {
		req.CostDetails = append(req.CostDetails, service.CostDetailRequest{
			SKU:       d.SKU,
			Volume:    d.Volume,
			UnitCost:  d.UnitCost,
			TotalCost: d.TotalCost,
		})
	}
	for _, a := range body.Attachments {
		req.Attachments = append(req.Attachments, service.AttachmentRequest{
			FileName: a.FileName,
			FileURL:  a.FileURL,
		})
	}

	code, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

// GetPlan handles GET /api/v1/plans/get?code=.
func (h *HTTPHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeError(w, r, apperr.InvalidInput("code", "plan code is required"))
		return
	}

	view, err := h.service.GetPlan(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"plan": planResponse{
			Code:             view.Plan.Code,
			Family:           view.Plan.Family,
			Description:      view.Plan.Description,
			RequestedAmount:  view.Plan.RequestedAmount,
			ParentBudgetCode: view.Plan.ParentBudgetCode,
			CurrentState:     string(view.CurrentState),
			CreatedBy:        view.Plan.CreatedBy,
			CreatedAt:        view.Plan.CreatedAt,
		},
	}
	if view.Budget != nil {
		resp["budget"] = budgetResponse{
			OwnerPlanCode:    view.Budget.OwnerPlanCode,
			AllocatedAmount:  view.Budget.AllocatedAmount,
			RemainingBalance: view.Budget.RemainingBalance,
			ApprovedFlag:     view.Budget.ApprovedFlag,
		}
	}
	if len(view.CostDetails) > 0 {
		details := make([]costDetailBody, 0, len(view.CostDetails))
		for _, d := range view.CostDetails {
			details = append(details, costDetailBody{
				SKU:       d.SKU,
				Volume:    d.Volume,
				UnitCost:  d.UnitCost,
				TotalCost: d.TotalCost,
			})
		}
		resp["cost_details"] = details
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ListPlans handles GET /api/v1/plans.
func (h *HTTPHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	var family, state *string
	if f := r.URL.Query().Get("family"); f != "" {
		family = &f
	}
	if st := r.URL.Query().Get("state"); st != "" {
		state = &st
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	plans, total, err := h.service.ListPlans(r.Context(), family, state, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, planResponse{
			Code:             p.Code,
			Family:           p.Family,
			Description:      p.Description,
			RequestedAmount:  p.RequestedAmount,
			ParentBudgetCode: p.ParentBudgetCode,
			CurrentState:     p.CurrentState,
			CreatedBy:        p.CreatedBy,
			CreatedAt:        p.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"plans":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ApprovalHistory handles GET /api/v1/plans/history?code=.
func (h *HTTPHandler) ApprovalHistory(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeError(w, r, apperr.InvalidInput("code", "plan code is required"))
		return
	}

	records, err := h.service.ApprovalHistory(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]approvalRecordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, approvalRecordResponse{
			ID:           rec.ID,
			PlanCode:     rec.PlanCode,
			ApproverID:   rec.ApproverID,
			ApproverType: rec.ApproverType,
			Response:     rec.Response,
			RespondedAt:  rec.RespondedAt,
			CreatedAt:    rec.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"records": items})
}

// ── Decision endpoints ────────────────────────────────────────────────────────

// ApprovePlan handles POST /api/v1/plans/approve.
func (h *HTTPHandler) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve, "approved")
}

// DeclinePlan handles POST /api/v1/plans/decline.
func (h *HTTPHandler) DeclinePlan(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Decline, "declined")
}

// SendBackPlan handles POST /api/v1/plans/sendback.
func (h *HTTPHandler) SendBackPlan(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.SendBack, "sent_back")
}

// ResubmitPlan handles POST /api/v1/plans/resubmit.
func (h *HTTPHandler) ResubmitPlan(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Resubmit, "resubmitted")
}

// CancelPlan handles POST /api/v1/plans/cancel.
func (h *HTTPHandler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Cancel, "cancelled")
}

func (h *HTTPHandler) decide(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error, status string) {
	actorID := r.Header.Get("X-Actor-ID")

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	if err := op(r.Context(), body.Code, actorID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"code": body.Code, "status": status})
}

// RemovePlan handles DELETE /api/v1/plans/delete?code=.
func (h *HTTPHandler) RemovePlan(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Actor-ID")
	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeError(w, r, apperr.InvalidInput("code", "plan code is required"))
		return
	}

	if err := h.service.Remove(r.Context(), code, actorID); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

type errorPayload struct {
	Code    apperr.Code       `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// writeError maps an error code to an HTTP status and renders the caller
// payload. Wrapped store error text stays in the logs, never in the response.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)

	var status int
	switch code {
	case apperr.CodeValidation:
		status = http.StatusBadRequest
	case apperr.CodeUnauthorized:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidTransition, apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeDependency:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	payload := errorPayload{Code: code, Message: "internal server error"}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		payload.Message = appErr.Message
		payload.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}

	h.writeJSON(w, status, map[string]errorPayload{"error": payload})
}
