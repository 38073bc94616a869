package gate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"threatfusion/internal/countermeasure"
	"threatfusion/internal/planner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func batch() planner.Batch {
	plan := func(id, name string, approach planner.Approach, rank int) planner.Plan {
		return planner.Plan{
			PlanID:                 id,
			PlanName:               name,
			Approach:               approach,
			Rank:                   rank,
			TargetIDs:              []string{"THREAT-001"},
			Commands:               []countermeasure.Command{countermeasure.NewDirectedEnergy("THREAT-001", countermeasure.DirectedEnergy{PowerKW: 50, FrequencyGHz: 95, BeamWidthDeg: 15, DurationS: 3})},
			EstimatedEffectiveness: 88,
			ExecutionTimeS:         3.5,
			ResourceCost:           planner.CostMedium,
			Pros:                   []string{"fast"},
			Cons:                   []string{"loud"},
		}
	}
	return planner.Batch{IncidentID: "inc-1", Plans: []planner.Plan{
		plan("PLAN-001", "Direct Neutralization", planner.ApproachAggressive, 2),
		plan("PLAN-002", "Electronic Disruption", planner.ApproachNonKinetic, 1),
	}}
}

func pick(id string) DecisionFunc {
	return func(context.Context, string, []planner.Plan) (string, error) { return id, nil }
}

func TestAwait_SelectsOfferedPlan(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	assert.Equal(t, StatePlansReady, g.State())

	var seenState State
	plan, err := g.Await(context.Background(), DecisionFunc(func(_ context.Context, incidentID string, plans []planner.Plan) (string, error) {
		seenState = g.State()
		assert.Equal(t, "inc-1", incidentID)
		assert.Len(t, plans, 2)
		return " PLAN-002 ", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingSelection, seenState)
	assert.Equal(t, "PLAN-002", plan.PlanID)

	state, id, reason := g.Outcome()
	assert.Equal(t, StateSelected, state)
	assert.Equal(t, "PLAN-002", id)
	assert.Empty(t, reason)
}

func TestAwait_RejectsPlanOutsideBatch(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)

	_, err = g.Await(context.Background(), pick("PLAN-404"))
	var invalid *InvalidSelectionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "PLAN-404", invalid.PlanID)
	assert.Equal(t, []string{"PLAN-001", "PLAN-002"}, invalid.Offered)
	assert.Equal(t, StateRejected, g.State())
}

func TestAwait_OnlyOneDecision(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)

	var calls atomic.Int32
	decider := DecisionFunc(func(context.Context, string, []planner.Plan) (string, error) {
		calls.Add(1)
		return "PLAN-001", nil
	})
	_, err = g.Await(context.Background(), decider)
	require.NoError(t, err)
	_, err = g.Await(context.Background(), decider)
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Equal(t, int32(1), calls.Load())

	rejected, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	_, _ = rejected.Await(context.Background(), pick("nope"))
	_, err = rejected.Await(context.Background(), pick("PLAN-001"))
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestAwait_DeciderErrorRejects(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	boom := errors.New("console lost")
	_, err = g.Await(context.Background(), DecisionFunc(func(context.Context, string, []planner.Plan) (string, error) {
		return "", boom
	}))
	assert.ErrorIs(t, err, boom)
	state, _, reason := g.Outcome()
	assert.Equal(t, StateRejected, state)
	assert.Equal(t, "console lost", reason)
}

func waitForCancel(ctx context.Context, _ string, _ []planner.Plan) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestAwait_TimeoutPolicy(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = g.Await(context.Background(), DecisionFunc(waitForCancel))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRejected, g.State())
}

func TestAwait_CallerCancellation(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err = g.Await(ctx, DecisionFunc(waitForCancel))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRejected, g.State())
}

func TestNew_FreezesBatch(t *testing.T) {
	b := batch()
	g, err := New("inc-1", b, Policy{})
	require.NoError(t, err)

	b.Plans[0].PlanID = "PLAN-999"
	b.Plans[0].Commands[0].DirectedEnergy.PowerKW = 1

	frozen := g.Batch()
	assert.Equal(t, "PLAN-001", frozen.Plans[0].PlanID)
	assert.Equal(t, 50.0, frozen.Plans[0].Commands[0].DirectedEnergy.PowerKW)

	_, err = g.Await(context.Background(), DecisionFunc(func(_ context.Context, _ string, plans []planner.Plan) (string, error) {
		plans[0].PlanID = "HIJACK"
		return "HIJACK", nil
	}))
	assert.Error(t, err, "decider copies cannot widen the batch")
}

func TestNew_RequiresDecidableBatch(t *testing.T) {
	b := batch()
	b.Plans = b.Plans[:1]
	_, err := New("inc-1", b, Policy{})
	assert.Error(t, err)

	_, err = New("inc-1", batch(), Policy{Timeout: -time.Second})
	assert.Error(t, err)

	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	_, err = g.Await(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, StatePlansReady, g.State())
}

func TestChannelDecider(t *testing.T) {
	d := NewChannelDecider()
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)

	go func() {
		offer := <-d.Offers()
		assert.Equal(t, "inc-1", offer.IncidentID)
		offer.Select(offer.Plans[1].PlanID)
		offer.Select("PLAN-001")
	}()

	plan, err := g.Await(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "PLAN-002", plan.PlanID)
}

func TestChannelDecider_Decline(t *testing.T) {
	d := NewChannelDecider()
	g, err := New("inc-1", batch(), Policy{})
	require.NoError(t, err)
	go func() {
		offer := <-d.Offers()
		offer.Decline(nil)
	}()
	_, err = g.Await(context.Background(), d)
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestChannelDecider_NobodyListening(t *testing.T) {
	g, err := New("inc-1", batch(), Policy{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = g.Await(context.Background(), NewChannelDecider())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPromptDecider(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"number then confirm", "2\ny\n", "PLAN-002", nil},
		{"plan id", "plan-001\nyes\n", "PLAN-001", nil},
		{"retry after bad input and refusal", "7\n1\nn\n2\ny\n", "PLAN-002", nil},
		{"quit", "q\n", "", ErrDeclined},
		{"input closed", "1\n", "", ErrDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			d := PromptDecider{In: strings.NewReader(tt.input), Out: &out}
			id, err := d.Decide(context.Background(), "inc-1", batch().Plans)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
			assert.Contains(t, out.String(), "PLAN-001")
			assert.Contains(t, out.String(), "Electronic Disruption")
		})
	}
}

func TestRenderPlanCard(t *testing.T) {
	card := RenderPlanCard(1, batch().Plans[0])
	assert.Contains(t, card, "PLAN-001")
	assert.Contains(t, card, "MEDIUM")
	assert.Contains(t, card, "88.0%")
	assert.Contains(t, card, "directed energy")
}
