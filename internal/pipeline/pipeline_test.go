package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"threatfusion/internal/actuator"
	"threatfusion/internal/audit"
	"threatfusion/internal/classify"
	"threatfusion/internal/fusion"
	"threatfusion/internal/gate"
	"threatfusion/internal/planner"
	"threatfusion/internal/sensors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scenarioA is a drone fused with a Ku-band trace at a 3000 m gate.
func scenarioA() sensors.Scenario {
	return sensors.Scenario{
		Name:       "scenario-a",
		ThresholdM: 3000,
		Detections: []sensors.DetectionRecord{
			{SourceImageID: "cam1.jpg", ObjectType: sensors.ObjectDrone, Confidence: 0.8},
			{SourceImageID: "cam1.jpg", ObjectType: sensors.ObjectVessel, Confidence: 0.1},
		},
		Traces: []sensors.RadarTrace{{
			RangeKM:            2.5,
			BearingDegrees:     45,
			VelocityMPS:        sensors.Float(25),
			DopplerFrequencyHz: sensors.Float(55),
			Band:               sensors.BandKu,
		}},
		Emitters:   []string{"fire_control_radar"},
		OwnSystems: []string{"radar"},
	}
}

type harness struct {
	dir   string
	audit *audit.Logger
}

func newPipeline(t *testing.T, mutate func(*Config)) (*Pipeline, harness) {
	t.Helper()
	h := harness{dir: t.TempDir()}
	h.audit = audit.NewLogger(filepath.Join(h.dir, "audit.sqlite"))
	cfg := Config{
		MinDetectionConfidence: -1,
		IncidentsDir:           filepath.Join(h.dir, "incidents"),
		Audit:                  h.audit,
		NewID:                  func() string { return "inc-A" },
		Now:                    func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p, h
}

func (h harness) eventTypes(t *testing.T) []string {
	t.Helper()
	events, err := h.audit.Events("inc-A")
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func pickTopRanked(_ context.Context, _ string, plans []planner.Plan) (string, error) {
	for _, p := range plans {
		if p.Rank == 1 {
			return p.PlanID, nil
		}
	}
	return "", errors.New("no rank 1 plan")
}

func TestRun_EndToEnd(t *testing.T) {
	var offered planner.Batch
	p, h := newPipeline(t, func(c *Config) {
		c.OnOffer = func(b planner.Batch, threats int) {
			offered = b
			assert.Equal(t, 1, threats)
		}
	})

	rep, err := p.Run(context.Background(), scenarioA(), gate.DecisionFunc(pickTopRanked))
	require.NoError(t, err)

	require.Len(t, rep.Detections, 1, "low-confidence detections are dropped")
	require.Len(t, rep.Threats, 1)
	threat := rep.Threats[0]
	assert.True(t, threat.RadarCorrelation)
	assert.Equal(t, fusion.SignatureStrongRotational, threat.DopplerSignature)
	assert.Equal(t, 6, threat.EstimatedRotorCount.Min)
	assert.Equal(t, 1.0, threat.FusionConfidence)

	require.Len(t, rep.Assessments, 1)
	assert.Equal(t, classify.LevelHigh, rep.Assessments[0].ThreatLevel)
	require.NotNil(t, rep.Susceptibility)
	assert.True(t, rep.Susceptibility.StealthRecommended)

	require.NotNil(t, rep.Plans)
	assert.GreaterOrEqual(t, len(rep.Plans.Plans), 2)
	assert.Equal(t, rep.Plans.IDs(), offered.IDs())

	require.NotNil(t, rep.Selection)
	assert.Equal(t, gate.StateSelected, rep.Selection.State)
	require.NotNil(t, rep.Execution)
	assert.Equal(t, rep.Selection.PlanID, rep.Execution.PlanID)
	assert.Equal(t, "inc-A", rep.Execution.IncidentID)
	assert.NotEmpty(t, rep.Execution.PerCommandResults)
	assert.Equal(t, "2026-03-01T12:00:00Z", rep.FinishedAt)

	incidentDir := filepath.Join(h.dir, "incidents", "inc-A")
	batch, err := planner.LoadBatch(filepath.Join(incidentDir, planner.BatchFileName))
	require.NoError(t, err)
	assert.Equal(t, rep.Plans.IDs(), batch.IDs())

	saved, err := LoadReport(filepath.Join(incidentDir, ReportFileName))
	require.NoError(t, err)
	assert.Equal(t, rep.Execution.AverageEffectiveness, saved.Execution.AverageEffectiveness)

	assert.Equal(t, []string{
		audit.EventIncidentStarted,
		audit.EventFusionCompleted,
		audit.EventPlansGenerated,
		audit.EventPlanSelected,
		audit.EventExecutionFinished,
	}, h.eventTypes(t))

	summary := RenderSummary(rep)
	assert.Contains(t, summary, "inc-A")
	assert.Contains(t, summary, rep.Execution.PlanID)
	assert.Contains(t, summary, "HIGH")
}

func TestRun_SelectionOutsideBatch(t *testing.T) {
	p, h := newPipeline(t, nil)

	rep, err := p.Run(context.Background(), scenarioA(), gate.DecisionFunc(func(context.Context, string, []planner.Plan) (string, error) {
		return "PLAN-404", nil
	}))

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, StageGate, failure.Stage)
	assert.Equal(t, "PLAN-404", failure.PlanID)
	var invalid *gate.InvalidSelectionError
	assert.True(t, errors.As(err, &invalid))
	assert.Contains(t, err.Error(), "incident inc-A failed during gate")

	assert.Nil(t, rep.Execution)
	assert.Equal(t, gate.StateRejected, rep.Selection.State)
	assert.NoFileExists(t, filepath.Join(h.dir, "incidents", "inc-A", ReportFileName))
	assert.Equal(t, []string{
		audit.EventIncidentStarted,
		audit.EventFusionCompleted,
		audit.EventPlansGenerated,
		audit.EventSelectionRejected,
		audit.EventIncidentFailed,
	}, h.eventTypes(t))
}

func TestRun_PlanningFailureNeverOpensGate(t *testing.T) {
	p, h := newPipeline(t, func(c *Config) { c.MinThreatLevel = classify.LevelCritical })

	called := false
	_, err := p.Run(context.Background(), scenarioA(), gate.DecisionFunc(func(context.Context, string, []planner.Plan) (string, error) {
		called = true
		return "PLAN-001", nil
	}))

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, StagePlanning, failure.Stage)
	var planning *planner.PlanningFailure
	assert.True(t, errors.As(err, &planning))
	assert.False(t, called)
	assert.NoDirExists(t, filepath.Join(h.dir, "incidents", "inc-A"))
}

func TestRun_FusionInputError(t *testing.T) {
	p, _ := newPipeline(t, nil)
	sc := scenarioA()
	sc.ThresholdM = -5

	_, err := p.Run(context.Background(), sc, gate.DecisionFunc(pickTopRanked))
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, StageFusion, failure.Stage)
	var input *fusion.InputError
	assert.True(t, errors.As(err, &input))
}

func TestRun_GateTimeout(t *testing.T) {
	p, _ := newPipeline(t, func(c *Config) { c.GatePolicy = gate.Policy{Timeout: 20 * time.Millisecond} })

	_, err := p.Run(context.Background(), scenarioA(), gate.DecisionFunc(func(ctx context.Context, _ string, _ []planner.Plan) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, StageGate, failure.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubDetector struct{}

func (stubDetector) Name() string { return "stub" }

func (stubDetector) Detect(_ context.Context, image sensors.ImageRef) ([]sensors.DetectionRecord, error) {
	return []sensors.DetectionRecord{
		{SourceImageID: filepath.Base(image.Path), ObjectType: sensors.ObjectDrone, Confidence: 0.9},
		{SourceImageID: filepath.Base(image.Path), ObjectType: sensors.ObjectUnknown, Confidence: 0.2},
	}, nil
}

func TestRun_ImagesGoThroughDetector(t *testing.T) {
	p, _ := newPipeline(t, func(c *Config) {
		c.Detector = stubDetector{}
		c.DetectorConcurrency = 2
		c.IncidentsDir = ""
	})
	sc := sensors.Scenario{
		Name:   "images",
		Images: []sensors.ImageRef{{Path: "/frames/a.jpg"}, {Path: "/frames/b.jpg"}},
	}

	rep, err := p.Run(context.Background(), sc, gate.DecisionFunc(pickTopRanked))
	require.NoError(t, err)
	require.Len(t, rep.Detections, 2)
	assert.Equal(t, "a.jpg", rep.Detections[0].SourceImageID)
	assert.Equal(t, "b.jpg", rep.Detections[1].SourceImageID)
	for _, th := range rep.Threats {
		assert.Equal(t, fusion.MethodVisualOnly, th.FusionMethod)
	}
	assert.Nil(t, rep.Susceptibility)
}

func TestRun_ExecutionCancelled(t *testing.T) {
	p, _ := newPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := p.Run(ctx, scenarioA(), gate.DecisionFunc(func(ctx context.Context, incidentID string, plans []planner.Plan) (string, error) {
		defer cancel()
		return pickTopRanked(ctx, incidentID, plans)
	}))
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, []Stage{StageGate, StageExecution}, failure.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailure_Message(t *testing.T) {
	f := &Failure{Stage: StageExecution, IncidentID: "inc-1", PlanID: "PLAN-002", Err: &actuator.UnknownActuatorError{Kind: "sonic", Reason: "no model"}}
	assert.Contains(t, f.Error(), "incident inc-1 failed during execution (plan PLAN-002)")
	var unknown *actuator.UnknownActuatorError
	assert.True(t, errors.As(f, &unknown))
}

func TestRun_RadarFeed(t *testing.T) {
	p, h := newPipeline(t, nil)
	feed := filepath.Join(h.dir, "radar.json")
	require.NoError(t, os.WriteFile(feed,
		[]byte(`[{"range_km": 2.5, "bearing_degrees": 45, "band": "Ku", "doppler_frequency_hz": 55}]`), 0o644))

	sc := scenarioA()
	sc.Traces = nil
	sc.RadarFile = feed
	rep, err := p.Run(context.Background(), sc, gate.DecisionFunc(pickTopRanked))
	require.NoError(t, err)
	require.Len(t, rep.Threats, 1)
	assert.True(t, rep.Threats[0].RadarCorrelation)

	// A malformed feed leaves fusion visual-only.
	require.NoError(t, os.WriteFile(feed, []byte(`not: [json`), 0o644))
	assert.Empty(t, p.Traces(sc))
}

func TestDetections_ConfidenceFloor(t *testing.T) {
	ctx := context.Background()

	p, _ := newPipeline(t, nil)
	dets, err := p.Detections(ctx, scenarioA())
	require.NoError(t, err)
	require.Len(t, dets, 1, "negative selects the default floor")

	p, _ = newPipeline(t, func(c *Config) { c.MinDetectionConfidence = 0 })
	dets, err = p.Detections(ctx, scenarioA())
	require.NoError(t, err)
	assert.Len(t, dets, 2, "zero keeps every detection")

	p, _ = newPipeline(t, func(c *Config) { c.MinDetectionConfidence = 0.9 })
	dets, err = p.Detections(ctx, scenarioA())
	require.NoError(t, err)
	assert.Empty(t, dets)
}
