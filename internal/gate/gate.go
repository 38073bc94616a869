package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"threatfusion/internal/planner"
)

type State string

const (
	StatePlansReady        State = "PLANS_READY"
	StateAwaitingSelection State = "AWAITING_SELECTION"
	StateSelected          State = "SELECTED"
	StateRejected          State = "REJECTED"
)

// ErrGateClosed is returned by Await once a gate has been decided.
var ErrGateClosed = errors.New("gate: decision already taken for this incident")

// InvalidSelectionError reports a plan id that was not in the offered batch.
type InvalidSelectionError struct {
	IncidentID string
	PlanID     string
	Offered    []string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("incident %s: plan %q was not offered (offered: %s)", e.IncidentID, e.PlanID, strings.Join(e.Offered, ", "))
}

// Decider supplies the operator's choice for an offered batch. It receives a
// copy of the plans and returns the chosen plan id.
type Decider interface {
	Decide(ctx context.Context, incidentID string, plans []planner.Plan) (string, error)
}

// DecisionFunc adapts a function to Decider.
type DecisionFunc func(ctx context.Context, incidentID string, plans []planner.Plan) (string, error)

func (f DecisionFunc) Decide(ctx context.Context, incidentID string, plans []planner.Plan) (string, error) {
	return f(ctx, incidentID, plans)
}

// Policy bounds the wait for a decision. A zero Timeout waits until the
// decider returns or the caller's context ends.
type Policy struct {
	Timeout time.Duration
}

// Gate holds one frozen plan batch and accepts at most one decision for it.
type Gate struct {
	incidentID string
	batch      planner.Batch
	policy     Policy

	mu       sync.Mutex
	state    State
	selected string
	reason   string
}

// New freezes a copy of batch. The batch must hold 2 or 3 valid plans.
func New(incidentID string, batch planner.Batch, policy Policy) (*Gate, error) {
	if err := planner.ValidateBatch(batch); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	if policy.Timeout < 0 {
		return nil, fmt.Errorf("gate: timeout must not be negative")
	}
	return &Gate{
		incidentID: incidentID,
		batch:      batch.Clone(),
		policy:     policy,
		state:      StatePlansReady,
	}, nil
}

// Batch returns a copy of the frozen batch.
func (g *Gate) Batch() planner.Batch {
	return g.batch.Clone()
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Outcome reports the selected plan id, or the rejection reason.
func (g *Gate) Outcome() (state State, planID string, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.selected, g.reason
}

type decision struct {
	planID string
	err    error
}

// Await offers the batch to decider exactly once and blocks until it answers,
// the policy timeout expires or ctx ends. Any outcome other than a plan id
// from the frozen batch leaves the gate REJECTED. The returned plan is a copy.
func (g *Gate) Await(ctx context.Context, decider Decider) (planner.Plan, error) {
	if decider == nil {
		return planner.Plan{}, errors.New("gate: decider is required")
	}
	g.mu.Lock()
	if g.state != StatePlansReady {
		g.mu.Unlock()
		return planner.Plan{}, ErrGateClosed
	}
	g.state = StateAwaitingSelection
	g.mu.Unlock()

	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}

	offered := g.batch.Clone().Plans
	done := make(chan decision, 1)
	go func() {
		id, err := decider.Decide(ctx, g.incidentID, offered)
		done <- decision{planID: id, err: err}
	}()

	var d decision
	select {
	case d = <-done:
	case <-ctx.Done():
		d = decision{err: ctx.Err()}
	}

	if d.err != nil {
		g.finish(StateRejected, "", d.err.Error())
		return planner.Plan{}, fmt.Errorf("incident %s: no plan selected: %w", g.incidentID, d.err)
	}
	planID := strings.TrimSpace(d.planID)
	plan, ok := g.batch.Find(planID)
	if !ok {
		err := &InvalidSelectionError{IncidentID: g.incidentID, PlanID: planID, Offered: g.batch.IDs()}
		g.finish(StateRejected, "", err.Error())
		return planner.Plan{}, err
	}
	g.finish(StateSelected, planID, "")
	return plan.Clone(), nil
}

func (g *Gate) finish(state State, planID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
	g.selected = planID
	g.reason = reason
}
