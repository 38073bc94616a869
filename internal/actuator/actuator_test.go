package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"threatfusion/internal/countermeasure"
	"threatfusion/internal/planner"
)

func de(power, freq, beam, dur float64) countermeasure.Command {
	return countermeasure.NewDirectedEnergy("THREAT-001", countermeasure.DirectedEnergy{PowerKW: power, FrequencyGHz: freq, BeamWidthDeg: beam, DurationS: dur})
}

func kinetic(weapon string, rounds int, rangeKM float64) countermeasure.Command {
	return countermeasure.NewKineticDefense("THREAT-001", countermeasure.KineticDefense{WeaponType: weapon, Rounds: rounds, EngagementRangeKM: rangeKM})
}

func jam(freq, power float64, typ string, dur float64) countermeasure.Command {
	return countermeasure.NewElectronicJamming("THREAT-001", countermeasure.ElectronicJamming{FrequencyMHz: freq, PowerDBm: power, JammingType: typ, DurationS: dur})
}

func TestPredict(t *testing.T) {
	sim := NewSimulator(nil)
	tests := []struct {
		name   string
		cmd    countermeasure.Command
		eff    float64
		status Status
		timeS  float64
		desc   string
	}{
		{"directed energy nominal", de(50, 95, 15, 3), 88.0, StatusSuccess, 3.5, "Target electronics damaged. Drone lost control and crashed."},
		{"directed energy saturates", de(200, 95, 10, 10), 100, StatusSuccess, 10.5, "Target electronics destroyed. Drone neutralized immediately."},
		{"directed energy weak", de(10, 50, 30, 1), 45.3, StatusPartial, 1.5, "Minimal effect on target. Target remains operational."},
		{"phalanx single round", kinetic("Phalanx", 1, 5), 84.0, StatusSuccess, 2.5, "Phalanx engaged successfully. Target critically damaged."},
		{"ram salvo close in", kinetic("RAM", 2, 3), 91.0, StatusSuccess, 3, "RAM direct hit. Target destroyed."},
		{"unlisted weapon", kinetic("Sling", 0, 5), 79.5, StatusPartial, 2, "Sling engaged successfully. Target critically damaged."},
		{"barrage on link band", jam(2400, 40, "barrage", 10), 97.0, StatusSuccess, 10, "C2 link completely jammed. Drone lost control."},
		{"band edge is inclusive", jam(2500, 40, "barrage", 5), 97.0, StatusSuccess, 5, "C2 link completely jammed. Drone lost control."},
		{"just outside band", jam(2501, 40, "barrage", 5), 85.0, StatusSuccess, 5, "C2 link completely jammed. Drone lost control."},
		{"off band unknown type", jam(1500, 20, "noise", 4), 67.0, StatusSuccess, 4, "C2 link severely degraded. Drone operating erratically."},
		{"off band no power", jam(1500, 0, "sweep", 4), 53.5, StatusPartial, 4, "C2 link partially jammed. Drone still functional."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := sim.Predict(tt.cmd)
			require.NoError(t, err)
			assert.InDelta(t, tt.eff, a.Effectiveness, 1e-9)
			assert.Equal(t, tt.status, a.Status)
			assert.InDelta(t, tt.timeS, a.ExecutionTimeS, 1e-9)
			assert.Equal(t, tt.desc, a.Description)
		})
	}
}

func TestPredict_Unscorable(t *testing.T) {
	sim := NewSimulator(nil)
	for name, cmd := range map[string]countermeasure.Command{
		"unregistered kind": {Type: "laser_dazzler", TargetID: "THREAT-001"},
		"missing payload":   {Type: countermeasure.KindDirectedEnergy},
		"wrong payload":     {Type: countermeasure.KindKineticDefense, ElectronicJamming: &countermeasure.ElectronicJamming{}},
		"empty type":        {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := sim.Predict(cmd)
			var unknown *UnknownActuatorError
			require.True(t, errors.As(err, &unknown), "got %v", err)
			assert.Equal(t, cmd.Type, unknown.Kind)
		})
	}
}

func TestExecute_ScenarioResults(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sim := NewSimulator(zap.New(core))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sim.now = func() time.Time { return fixed }

	plan := planner.Plan{PlanID: "PLAN-001", Commands: []countermeasure.Command{de(50, 95, 15, 3), kinetic("Phalanx", 1, 5)}}
	res, err := sim.Execute(context.Background(), "inc-1", plan)
	require.NoError(t, err)

	assert.Equal(t, "inc-1", res.IncidentID)
	assert.Equal(t, "PLAN-001", res.PlanID)
	require.Len(t, res.PerCommandResults, 2)
	assert.Equal(t, countermeasure.KindDirectedEnergy, res.PerCommandResults[0].ActuatorKind)
	assert.Equal(t, 88.0, res.PerCommandResults[0].Effectiveness)
	assert.Equal(t, countermeasure.KindKineticDefense, res.PerCommandResults[1].ActuatorKind)
	assert.Equal(t, 84.0, res.PerCommandResults[1].Effectiveness)
	assert.True(t, res.OverallSuccess)
	assert.Equal(t, 86.0, res.AverageEffectiveness)
	assert.Equal(t, "2026-03-01T12:00:00Z", res.StartedAt)
	assert.Equal(t, "2026-03-01T12:00:00Z", res.FinishedAt)
	assert.Equal(t, 2, logs.FilterMessage("Command executed").Len())
}

func TestExecute_UnknownDoesNotAbortRemainingCommands(t *testing.T) {
	sim := NewSimulator(nil)
	plan := planner.Plan{PlanID: "PLAN-002", Commands: []countermeasure.Command{
		{Type: "laser_dazzler", TargetID: "THREAT-001"},
		jam(2400, 40, "barrage", 10),
	}}
	res, err := sim.Execute(context.Background(), "inc-2", plan)
	require.NoError(t, err)
	require.Len(t, res.PerCommandResults, 2)

	unknown := res.PerCommandResults[0]
	assert.Equal(t, StatusUnknown, unknown.Status)
	assert.Zero(t, unknown.Effectiveness)
	assert.Contains(t, unknown.Error, "laser_dazzler")

	assert.Equal(t, StatusSuccess, res.PerCommandResults[1].Status)
	assert.False(t, res.OverallSuccess)
}

func TestExecute_PartialForcesNonSuccess(t *testing.T) {
	res, err := NewSimulator(nil).Execute(context.Background(), "inc", planner.Plan{
		PlanID:   "PLAN-001",
		Commands: []countermeasure.Command{de(50, 95, 15, 3), de(10, 50, 30, 1)},
	})
	require.NoError(t, err)
	assert.False(t, res.OverallSuccess)
}

func TestExecute_EffectivenessWithinBounds(t *testing.T) {
	sim := NewSimulator(nil)
	var cmds []countermeasure.Command
	for _, p := range []float64{0, 5, 25, 50, 75, 150, 1000} {
		cmds = append(cmds, de(p, p, p, p/10), kinetic("RAM", int(p)%11, p/100), jam(p*10, p/5, "spot", p))
	}
	res, err := sim.Execute(context.Background(), "inc", planner.Plan{PlanID: "P", Commands: cmds})
	require.NoError(t, err)
	for _, r := range res.PerCommandResults {
		assert.GreaterOrEqual(t, r.Effectiveness, 0.0)
		assert.LessOrEqual(t, r.Effectiveness, 100.0)
	}
}

func TestExecute_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewSimulator(nil).Execute(ctx, "inc", planner.Plan{PlanID: "P", Commands: []countermeasure.Command{de(50, 95, 15, 3)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.PerCommandResults)
	assert.False(t, res.OverallSuccess)
}

type fixedModel struct{}

func (fixedModel) Kind() countermeasure.Kind { return "laser_dazzler" }

func (fixedModel) Assess(countermeasure.Command) (Assessment, error) {
	return Assessment{Effectiveness: 75, Status: StatusSuccess, Description: "dazzled", ExecutionTimeS: 1}, nil
}

func TestRegister_CustomModel(t *testing.T) {
	sim := NewSimulator(nil)
	sim.Register(fixedModel{})
	a, err := sim.Predict(countermeasure.Command{Type: "laser_dazzler"})
	require.NoError(t, err)
	assert.Equal(t, "dazzled", a.Description)
}
