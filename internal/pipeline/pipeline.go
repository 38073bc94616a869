// Package pipeline runs one incident end to end: detection, fusion,
// classification, planning, the operator gate and simulated actuation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"threatfusion/internal/actuator"
	"threatfusion/internal/audit"
	"threatfusion/internal/classify"
	"threatfusion/internal/detectors"
	"threatfusion/internal/fusion"
	"threatfusion/internal/gate"
	"threatfusion/internal/planner"
	"threatfusion/internal/scoring"
	"threatfusion/internal/sensors"
	"threatfusion/internal/susceptibility"
)

// ReportFileName is the incident report written next to plans.json.
const ReportFileName = "report.json"

const auditActor = "pipeline"

type Stage string

const (
	StageDetection      Stage = "detection"
	StageFusion         Stage = "fusion"
	StageClassification Stage = "classification"
	StagePlanning       Stage = "planning"
	StageGate           Stage = "gate"
	StageExecution      Stage = "execution"
	StageReport         Stage = "report"
)

// Failure wraps the error that stopped an incident with where it stopped.
// errors.As reaches the typed cause through Unwrap.
type Failure struct {
	Stage      Stage
	IncidentID string
	PlanID     string
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("incident %s failed during %s", f.IncidentID, f.Stage)
	if f.PlanID != "" {
		msg += fmt.Sprintf(" (plan %s)", f.PlanID)
	}
	return msg + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Config wires the pipeline's collaborators. Zero values select defaults,
// except MinDetectionConfidence where 0 keeps every detection and a negative
// value selects the default floor.
type Config struct {
	ThresholdM             float64
	MinDetectionConfidence float64
	MinThreatLevel         classify.Level
	GatePolicy             gate.Policy

	// Detector runs over scenario images; nil skips images.
	Detector            detectors.Detector
	DetectorConcurrency int

	Risk      scoring.Lookuper
	Signature *scoring.SignatureModel

	// IncidentsDir receives <incident>/plans.json and report.json when set.
	IncidentsDir string

	Logger *zap.Logger
	Audit  *audit.Logger
	// OnOffer is called with the batch just before the gate opens.
	OnOffer func(batch planner.Batch, threats int)

	NewID func() string
	Now   func() time.Time
}

type Pipeline struct {
	cfg        Config
	logger     *zap.Logger
	classifier *classify.Classifier
	generator  *planner.Generator
	simulator  *actuator.Simulator
	assessor   *susceptibility.Assessor
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.ThresholdM == 0 {
		cfg.ThresholdM = fusion.DefaultThresholdM
	}
	if cfg.MinDetectionConfidence < 0 {
		cfg.MinDetectionConfidence = detectors.DefaultMinConfidence
	}
	if cfg.DetectorConcurrency <= 0 {
		cfg.DetectorConcurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Risk == nil {
		cfg.Risk = scoring.DefaultTable()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.Named("pipeline")
	sim := actuator.NewSimulator(cfg.Logger)
	gen, err := planner.NewGenerator(sim, planner.GenerateOptions{MinLevel: cfg.MinThreatLevel, Now: cfg.Now})
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		classifier: classify.New(cfg.Risk),
		generator:  gen,
		simulator:  sim,
		assessor:   susceptibility.NewAssessor(cfg.Risk, cfg.Signature),
	}, nil
}

// Selection records how the gate was resolved.
type Selection struct {
	State  gate.State `json:"state"`
	PlanID string     `json:"plan_id,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Report is everything one incident produced.
type Report struct {
	IncidentID     string                      `json:"incident_id"`
	Scenario       string                      `json:"scenario,omitempty"`
	StartedAt      string                      `json:"started_at"`
	FinishedAt     string                      `json:"finished_at,omitempty"`
	Detections     []sensors.DetectionRecord   `json:"detections"`
	Threats        []fusion.FusedThreat        `json:"threats"`
	Assessments    []classify.ThreatAssessment `json:"assessments"`
	Susceptibility *susceptibility.Assessment  `json:"susceptibility,omitempty"`
	Plans          *planner.Batch              `json:"plans,omitempty"`
	Selection      *Selection                  `json:"selection,omitempty"`
	Execution      *actuator.ExecutionResult   `json:"execution,omitempty"`
}

// Run processes one scenario. The decider is consulted once through a
// freshly opened gate. On failure the returned error is a *Failure and the
// partial report is not written to disk.
func (p *Pipeline) Run(ctx context.Context, sc sensors.Scenario, decider gate.Decider) (Report, error) {
	id := p.cfg.NewID()
	rep := Report{
		IncidentID: id,
		Scenario:   sc.Name,
		StartedAt:  p.cfg.Now().UTC().Format(time.RFC3339),
	}
	log := p.logger.With(zap.String("incident_id", id))
	log.Info("Incident started", zap.String("scenario", sc.Name))
	p.audit(log, audit.EventIncidentStarted, id, map[string]any{
		"scenario":   sc.Name,
		"detections": len(sc.Detections),
		"traces":     len(sc.Traces),
		"images":     len(sc.Images),
	})

	fail := func(stage Stage, planID string, err error) (Report, error) {
		f := &Failure{Stage: stage, IncidentID: id, PlanID: planID, Err: err}
		log.Error("Incident failed", zap.String("stage", string(stage)), zap.Error(err))
		p.audit(log, audit.EventIncidentFailed, id, map[string]any{
			"stage":   stage,
			"plan_id": planID,
			"error":   err.Error(),
		})
		return rep, f
	}

	dets, err := p.detections(ctx, sc, log)
	if err != nil {
		return fail(StageDetection, "", err)
	}
	rep.Detections = dets

	threshold := sc.ThresholdM
	if threshold == 0 {
		threshold = p.cfg.ThresholdM
	}
	threats, err := fusion.Correlate(dets, p.traces(sc, log), threshold)
	if err != nil {
		return fail(StageFusion, "", err)
	}
	rep.Threats = threats
	correlated := 0
	for _, t := range threats {
		if t.RadarCorrelation {
			correlated++
		}
	}
	log.Info("Fusion completed", zap.Int("threats", len(threats)), zap.Int("correlated", correlated))
	p.audit(log, audit.EventFusionCompleted, id, map[string]any{
		"threats":     len(threats),
		"correlated":  correlated,
		"threshold_m": threshold,
	})

	rep.Assessments = p.classifier.ClassifyAll(threats)
	if len(sc.Emitters) > 0 || len(sc.OwnSystems) > 0 {
		s := p.assessor.Assess(susceptibility.Request{Emitters: sc.Emitters, OwnSystems: sc.OwnSystems})
		rep.Susceptibility = &s
	}

	batch, err := p.generator.Generate(id, rep.Assessments)
	if err != nil {
		return fail(StagePlanning, "", err)
	}
	rep.Plans = &batch
	if dir := p.incidentDir(id); dir != "" {
		if err := planner.WriteBatch(filepath.Join(dir, planner.BatchFileName), batch); err != nil {
			return fail(StagePlanning, "", err)
		}
	}
	log.Info("Plans generated", zap.Strings("plan_ids", batch.IDs()))
	p.audit(log, audit.EventPlansGenerated, id, map[string]any{
		"plan_ids": batch.IDs(),
		"top_plan": topPlan(batch),
	})

	g, err := gate.New(id, batch, p.cfg.GatePolicy)
	if err != nil {
		return fail(StageGate, "", err)
	}
	if p.cfg.OnOffer != nil {
		p.cfg.OnOffer(batch.Clone(), len(threats))
	}
	plan, err := g.Await(ctx, decider)
	state, planID, reason := g.Outcome()
	rep.Selection = &Selection{State: state, PlanID: planID, Reason: reason}
	if err != nil {
		rejected := map[string]any{"reason": err.Error()}
		var invalid *gate.InvalidSelectionError
		if errors.As(err, &invalid) {
			planID = invalid.PlanID
			rejected["plan_id"] = invalid.PlanID
			rejected["offered"] = invalid.Offered
		}
		p.audit(log, audit.EventSelectionRejected, id, rejected)
		return fail(StageGate, planID, err)
	}
	log.Info("Plan selected", zap.String("plan_id", plan.PlanID))
	p.audit(log, audit.EventPlanSelected, id, map[string]any{
		"plan_id":  plan.PlanID,
		"approach": plan.Approach,
		"rank":     plan.Rank,
	})

	res, err := p.simulator.Execute(ctx, id, plan)
	if err != nil {
		return fail(StageExecution, plan.PlanID, err)
	}
	rep.Execution = &res
	rep.FinishedAt = p.cfg.Now().UTC().Format(time.RFC3339)
	p.audit(log, audit.EventExecutionFinished, id, map[string]any{
		"plan_id":               plan.PlanID,
		"overall_success":       res.OverallSuccess,
		"average_effectiveness": res.AverageEffectiveness,
	})

	if dir := p.incidentDir(id); dir != "" {
		if err := WriteReport(filepath.Join(dir, ReportFileName), rep); err != nil {
			return fail(StageReport, plan.PlanID, err)
		}
	}
	log.Info("Incident finished",
		zap.String("plan_id", plan.PlanID),
		zap.Bool("overall_success", res.OverallSuccess),
		zap.Float64("average_effectiveness", res.AverageEffectiveness))
	return rep, nil
}

// detections merges the scenario's recorded detections with detector output
// for its images, then applies the confidence floor.
func (p *Pipeline) detections(ctx context.Context, sc sensors.Scenario, log *zap.Logger) ([]sensors.DetectionRecord, error) {
	dets := append([]sensors.DetectionRecord(nil), sc.Detections...)
	if sc.DetectionsFile != "" {
		dets = append(dets, sensors.LoadDetectionFeed(sc.DetectionsFile, log)...)
	}
	if len(sc.Images) > 0 {
		if p.cfg.Detector == nil {
			log.Warn("Scenario lists images but no detector is configured", zap.Int("images", len(sc.Images)))
		} else {
			found, err := detectors.DetectAll(ctx, p.cfg.Detector, sc.Images, detectors.Options{
				Concurrency:   p.cfg.DetectorConcurrency,
				MinConfidence: p.cfg.MinDetectionConfidence,
				Logger:        log,
			})
			if err != nil {
				return nil, err
			}
			dets = append(dets, found...)
		}
	}
	return sensors.FilterByConfidence(dets, p.cfg.MinDetectionConfidence), nil
}

// Detections runs only the detection stage: recorded detections plus
// detector output for the scenario's images, above the confidence floor.
func (p *Pipeline) Detections(ctx context.Context, sc sensors.Scenario) ([]sensors.DetectionRecord, error) {
	return p.detections(ctx, sc, p.logger)
}

func (p *Pipeline) traces(sc sensors.Scenario, log *zap.Logger) []sensors.RadarTrace {
	if sc.RadarFile == "" {
		return sc.Traces
	}
	return append(append([]sensors.RadarTrace(nil), sc.Traces...), sensors.LoadRadarFeed(sc.RadarFile, log)...)
}

// Traces returns the scenario's inline traces followed by its radar feed, if any.
func (p *Pipeline) Traces(sc sensors.Scenario) []sensors.RadarTrace {
	return p.traces(sc, p.logger)
}

// incidentDir is empty when the pipeline does not persist artifacts.
func (p *Pipeline) incidentDir(incidentID string) string {
	if p.cfg.IncidentsDir == "" {
		return ""
	}
	return filepath.Join(p.cfg.IncidentsDir, incidentID)
}

// audit records best-effort; a broken audit store never stops an incident.
func (p *Pipeline) audit(log *zap.Logger, eventType, incidentID string, payload map[string]any) {
	if p.cfg.Audit == nil {
		return
	}
	if err := p.cfg.Audit.LogEvent(auditActor, eventType, incidentID, payload); err != nil {
		log.Warn("Audit log failed", zap.String("event", eventType), zap.Error(err))
	}
}

func topPlan(b planner.Batch) string {
	for _, p := range b.Plans {
		if p.Rank == 1 {
			return p.PlanID
		}
	}
	return ""
}

func WriteReport(path string, rep Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure incident dir: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Run.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}
	return rep, nil
}
