package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tradepromo/be-pwp-workflow/internal/apperr"
	"github.com/tradepromo/be-pwp-workflow/internal/service"
)

// PolicyClient implements service.PolicyResolver against the approval policy
// HTTP service. The resolver decides both modes the deployment supports: the
// single-approver allow-list and the multi-approver type lookup; this client
// only relays its answer.
type PolicyClient struct {
	baseURL string
	http    *http.Client
}

// NewPolicyClient creates a policy resolver client.
func NewPolicyClient(baseURL string, timeout time.Duration) *PolicyClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PolicyClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type policyResponse struct {
	Allowed      bool   `json:"allowed"`
	ApproverType string `json:"type"`
}

// Resolve returns whether the actor may approve and under which approver type.
func (c *PolicyClient) Resolve(ctx context.Context, actorID string) (*service.PolicyDecision, error) {
	endpoint := fmt.Sprintf("%s/api/v1/approvers/resolve?actor_id=%s",
		c.baseURL, url.QueryEscape(actorID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to build policy request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "policy service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown actors are simply not allowed to approve.
		return &service.PolicyDecision{Allowed: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeDependency,
			"policy service returned status %d", resp.StatusCode)
	}

	var body policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to decode policy response")
	}

	return &service.PolicyDecision{
		Allowed:      body.Allowed,
		ApproverType: body.ApproverType,
	}, nil
}
