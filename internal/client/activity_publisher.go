package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ActivityPublisher publishes workflow events to NATS for consumption by the
// activity log and notification services.
//
// Subject convention: activity.pwp.<action>
// Actions: plan_submitted, plan_approved, plan_declined, plan_sent_back,
//          plan_pending (resubmission), plan_cancelled, plan_removed
//
// Publishing is strictly fire-and-forget: it runs after the workflow
// transaction has committed, errors are logged and never propagated, and a
// nil connection disables it entirely.
type ActivityPublisher struct {
	conn    *nats.Conn
	timeout time.Duration
	log     zerolog.Logger
}

// ActivityEvent is the JSON schema published to NATS.
type ActivityEvent struct {
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	PlanCode   string    `json:"plan_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewActivityPublisher creates a publisher backed by the given NATS
// connection. conn may be nil, which turns Record into a no-op.
func NewActivityPublisher(conn *nats.Conn, timeout time.Duration, log zerolog.Logger) *ActivityPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActivityPublisher{conn: conn, timeout: timeout, log: log}
}

// Record publishes one workflow event. Never returns an error; failures are
// logged at Warn and swallowed so the side channel can never fail a workflow.
func (p *ActivityPublisher) Record(ctx context.Context, actorID, action, planCode string) {
	if p.conn == nil {
		return
	}

	event := ActivityEvent{
		ActorID:    actorID,
		Action:     action,
		PlanCode:   planCode,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("action", action).Msg("Failed to marshal activity event")
		return
	}

	subject := "activity.pwp." + action

	done := make(chan error, 1)
	go func() { done <- p.conn.Publish(subject, payload) }()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			p.log.Warn().Err(err).
				Str("subject", subject).
				Str("plan_code", planCode).
				Msg("Failed to publish activity event")
		}
	case <-timer.C:
		p.log.Warn().
			Str("subject", subject).
			Str("plan_code", planCode).
			Msg("Activity publish timed out")
	case <-ctx.Done():
		p.log.Warn().
			Str("subject", subject).
			Str("plan_code", planCode).
			Msg("Activity publish abandoned")
	}
}
