package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/repository"
	"github.com/tradepromo/be-pwp-workflow/internal/service"
)

// stubAPI lets each test plug in just the operations it exercises.
type stubAPI struct {
	submit   func(ctx context.Context, req *service.SubmitRequest) (string, error)
	decide   func(ctx context.Context, planCode, actorID string) error
	remove   func(ctx context.Context, planCode, actorID string) error
	getPlan  func(ctx context.Context, planCode string) (*service.PlanView, error)
	list     func(ctx context.Context, family, state *string, page, pageSize int) ([]*repository.PlanWithState, int64, error)
	history  func(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error)
	lastOp   string
	lastCode string
}

func (s *stubAPI) Submit(ctx context.Context, req *service.SubmitRequest) (string, error) {
	return s.submit(ctx, req)
}

func (s *stubAPI) op(name string, ctx context.Context, planCode, actorID string) error {
	s.lastOp = name
	s.lastCode = planCode
	if s.decide == nil {
		return nil
	}
	return s.decide(ctx, planCode, actorID)
}

func (s *stubAPI) Approve(ctx context.Context, planCode, actorID string) error {
	return s.op("approve", ctx, planCode, actorID)
}

func (s *stubAPI) Decline(ctx context.Context, planCode, actorID string) error {
	return s.op("decline", ctx, planCode, actorID)
}

func (s *stubAPI) SendBack(ctx context.Context, planCode, actorID string) error {
	return s.op("sendback", ctx, planCode, actorID)
}

func (s *stubAPI) Resubmit(ctx context.Context, planCode, actorID string) error {
	return s.op("resubmit", ctx, planCode, actorID)
}

func (s *stubAPI) Cancel(ctx context.Context, planCode, actorID string) error {
	return s.op("cancel", ctx, planCode, actorID)
}

func (s *stubAPI) Remove(ctx context.Context, planCode, actorID string) error {
	if s.remove == nil {
		return nil
	}
	return s.remove(ctx, planCode, actorID)
}

func (s *stubAPI) GetPlan(ctx context.Context, planCode string) (*service.PlanView, error) {
	return s.getPlan(ctx, planCode)
}

func (s *stubAPI) ListPlans(ctx context.Context, family, state *string, page, pageSize int) ([]*repository.PlanWithState, int64, error) {
	return s.list(ctx, family, state, page, pageSize)
}

func (s *stubAPI) ApprovalHistory(ctx context.Context, planCode string) ([]*repository.ApprovalRecord, error) {
	return s.history(ctx, planCode)
}

func newTestHandler(api *stubAPI) *HTTPHandler {
	return NewHTTPHandler(api, zerolog.Nop())
}

func TestSubmitPlan(t *testing.T) {
	var got *service.SubmitRequest
	api := &stubAPI{
		submit: func(ctx context.Context, req *service.SubmitRequest) (string, error) {
			got = req
			return "R2025-001", nil
		},
	}
	h := newTestHandler(api)

	body := `{
		"family": "R",
		"description": "Q3 shelf promotion",
		"requested_amount": "5000",
		"allocated_amount": "5000",
		"cost_details": [{"sku": "SKU-001", "volume": 100, "unit_cost": "50", "total_cost": "5000"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", strings.NewReader(body))
	req.Header.Set("X-Actor-ID", "user-1")
	req.Header.Set("X-Idempotency-Key", "tok-1")
	rr := httptest.NewRecorder()

	h.SubmitPlan(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "tok-1", got.IdempotencyToken)
	assert.Equal(t, "user-1", got.ActorID)
	assert.Equal(t, "R", got.Family)
	require.Len(t, got.CostDetails, 1)
	assert.Equal(t, "SKU-001", got.CostDetails[0].SKU)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "R2025-001", resp["code"])
}

func TestSubmitPlanBadBody(t *testing.T) {
	h := newTestHandler(&stubAPI{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()

	h.SubmitPlan(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDecisionEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		call       func(h *HTTPHandler, w http.ResponseWriter, r *http.Request)
		wantOp     string
		wantStatus string
	}{
		{"approve", (*HTTPHandler).ApprovePlan, "approve", "approved"},
		{"decline", (*HTTPHandler).DeclinePlan, "decline", "declined"},
		{"send back", (*HTTPHandler).SendBackPlan, "sendback", "sent_back"},
		{"resubmit", (*HTTPHandler).ResubmitPlan, "resubmit", "resubmitted"},
		{"cancel", (*HTTPHandler).CancelPlan, "cancel", "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{}
			h := newTestHandler(api)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/plans/x",
				strings.NewReader(`{"code": "R2025-001"}`))
			req.Header.Set("X-Actor-ID", "approver-1")
			rr := httptest.NewRecorder()

			tt.call(h, rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantOp, api.lastOp)
			assert.Equal(t, "R2025-001", api.lastCode)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp["status"])
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.InvalidInput("code", "plan code is required"), http.StatusBadRequest},
		{"unauthorized", apperr.New(apperr.CodeUnauthorized, "not permitted"), http.StatusForbidden},
		{"not found", apperr.NotFound("plan", "R2025-001"), http.StatusNotFound},
		{"invalid transition", apperr.InvalidTransition("R2025-001", "declined", "approved"), http.StatusConflict},
		{"conflict", apperr.New(apperr.CodeConflict, "plan is already cancelled"), http.StatusConflict},
		{"dependency", apperr.New(apperr.CodeDependency, "policy service unreachable"), http.StatusBadGateway},
		{"accounting invariant", apperr.New(apperr.CodeAccountingInvariant, "credit exceeds allocation"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{decide: func(ctx context.Context, planCode, actorID string) error {
				return tt.err
			}}
			h := newTestHandler(api)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/plans/approve",
				strings.NewReader(`{"code": "R2025-001"}`))
			rr := httptest.NewRecorder()

			h.ApprovePlan(rr, req)

			require.Equal(t, tt.want, rr.Code)

			var resp map[string]errorPayload
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, apperr.CodeOf(tt.err), resp["error"].Code)
			assert.NotEmpty(t, resp["error"].Message)
		})
	}
}

func TestGetPlan(t *testing.T) {
	desc := "Q3 shelf promotion"
	api := &stubAPI{
		getPlan: func(ctx context.Context, planCode string) (*service.PlanView, error) {
			return &service.PlanView{
				Plan: &repository.Plan{
					Code:            planCode,
					Family:          repository.FamilyRegular,
					Description:     &desc,
					RequestedAmount: decimal.RequireFromString("5000"),
					CreatedBy:       "user-1",
					CreatedAt:       time.Now().UTC(),
				},
				CurrentState: service.StateApproved,
				Budget: &repository.BudgetAccount{
					OwnerPlanCode:    planCode,
					AllocatedAmount:  decimal.RequireFromString("5000"),
					RemainingBalance: decimal.RequireFromString("5000"),
					ApprovedFlag:     true,
				},
			}, nil
		},
	}
	h := newTestHandler(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/get?code=R2025-001", nil)
	rr := httptest.NewRecorder()

	h.GetPlan(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Plan   planResponse   `json:"plan"`
		Budget budgetResponse `json:"budget"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "R2025-001", resp.Plan.Code)
	assert.Equal(t, "approved", resp.Plan.CurrentState)
	assert.True(t, resp.Budget.ApprovedFlag)
}

func TestGetPlanMissingCode(t *testing.T) {
	h := newTestHandler(&stubAPI{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/get", nil)
	rr := httptest.NewRecorder()

	h.GetPlan(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPlansPagination(t *testing.T) {
	var gotPage, gotSize int
	api := &stubAPI{
		list: func(ctx context.Context, family, state *string, page, pageSize int) ([]*repository.PlanWithState, int64, error) {
			gotPage, gotSize = page, pageSize
			return nil, 0, nil
		},
	}
	h := newTestHandler(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans?page=0&page_size=9999", nil)
	rr := httptest.NewRecorder()

	h.ListPlans(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, gotPage)
	assert.Equal(t, 50, gotSize)
}

func TestRemovePlan(t *testing.T) {
	var gotCode, gotActor string
	api := &stubAPI{
		remove: func(ctx context.Context, planCode, actorID string) error {
			gotCode, gotActor = planCode, actorID
			return nil
		},
	}
	h := newTestHandler(api)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/plans/delete?code=R2025-001", nil)
	req.Header.Set("X-Actor-ID", "approver-1")
	rr := httptest.NewRecorder()

	h.RemovePlan(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "R2025-001", gotCode)
	assert.Equal(t, "approver-1", gotActor)
}
