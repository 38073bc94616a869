package actuator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"threatfusion/internal/countermeasure"
	"threatfusion/internal/planner"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusUnknown Status = "UNKNOWN"
)

// UnknownActuatorError is recorded for a command no registered model can score.
type UnknownActuatorError struct {
	Kind   countermeasure.Kind
	Reason string
}

func (e *UnknownActuatorError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unknown actuator %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("unknown actuator %q", e.Kind)
}

// Result is the outcome of one command.
type Result struct {
	ActuatorKind       countermeasure.Kind `json:"actuator_kind"`
	TargetID           string              `json:"target_id,omitempty"`
	Status             Status              `json:"status"`
	Effectiveness      float64             `json:"effectiveness"`
	EffectsDescription string              `json:"effects_description"`
	ExecutionTimeS     float64             `json:"execution_time_s"`
	Error              string              `json:"error,omitempty"`
}

// ExecutionResult is the outcome of one plan.
type ExecutionResult struct {
	IncidentID           string   `json:"incident_id"`
	PlanID               string   `json:"plan_id"`
	PerCommandResults    []Result `json:"per_command_results"`
	OverallSuccess       bool     `json:"overall_success"`
	AverageEffectiveness float64  `json:"average_effectiveness"`
	StartedAt            string   `json:"started_at"`
	FinishedAt           string   `json:"finished_at"`
}

// Simulator scores commands against a registry of per-kind models.
type Simulator struct {
	models map[countermeasure.Kind]Model
	logger *zap.Logger
	now    func() time.Time
}

// NewSimulator returns a simulator with the directed energy, kinetic and
// jamming models registered.
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		models: map[countermeasure.Kind]Model{},
		logger: logger.Named("actuator"),
		now:    time.Now,
	}
	for _, m := range []Model{directedEnergyModel{}, kineticModel{}, jammingModel{}} {
		s.Register(m)
	}
	return s
}

// Register adds or replaces the model for m.Kind(). It must not be called
// concurrently with Execute or Predict.
func (s *Simulator) Register(m Model) {
	s.models[m.Kind()] = m
}

// Predict scores cmd without executing it. Planning uses the same formulas
// as execution.
func (s *Simulator) Predict(cmd countermeasure.Command) (Assessment, error) {
	m, ok := s.models[cmd.Type]
	if !ok {
		return Assessment{}, &UnknownActuatorError{Kind: cmd.Type, Reason: "no model registered"}
	}
	if err := cmd.Validate(); err != nil {
		return Assessment{}, &UnknownActuatorError{Kind: cmd.Type, Reason: err.Error()}
	}
	a, err := m.Assess(cmd)
	if err != nil {
		return Assessment{}, &UnknownActuatorError{Kind: cmd.Type, Reason: err.Error()}
	}
	return a, nil
}

// Estimate adapts Predict for the plan generator.
func (s *Simulator) Estimate(cmd countermeasure.Command) (planner.Prediction, error) {
	a, err := s.Predict(cmd)
	if err != nil {
		return planner.Prediction{}, err
	}
	return planner.Prediction{Effectiveness: a.Effectiveness, ExecutionTimeS: a.ExecutionTimeS}, nil
}

// Execute runs the plan's commands in order. A command that cannot be scored
// is reported as UNKNOWN and the remaining commands still run. Cancelling ctx
// stops before the next command and returns the results so far with ctx.Err().
func (s *Simulator) Execute(ctx context.Context, incidentID string, plan planner.Plan) (ExecutionResult, error) {
	res := ExecutionResult{
		IncidentID:        incidentID,
		PlanID:            plan.PlanID,
		PerCommandResults: make([]Result, 0, len(plan.Commands)),
		StartedAt:         s.now().UTC().Format(time.RFC3339),
	}
	log := s.logger.With(zap.String("incident_id", incidentID), zap.String("plan_id", plan.PlanID))

	for i, cmd := range plan.Commands {
		if err := ctx.Err(); err != nil {
			res.FinishedAt = s.now().UTC().Format(time.RFC3339)
			res.OverallSuccess = false
			return res, err
		}
		r := Result{ActuatorKind: cmd.Type, TargetID: cmd.TargetID}
		a, err := s.Predict(cmd)
		if err != nil {
			r.Status = StatusUnknown
			r.EffectsDescription = "Command not executed: no actuator can service it."
			r.Error = err.Error()
			log.Warn("Command not executable", zap.Int("index", i), zap.String("kind", string(cmd.Type)), zap.Error(err))
		} else {
			r.Status = a.Status
			r.Effectiveness = a.Effectiveness
			r.EffectsDescription = a.Description
			r.ExecutionTimeS = a.ExecutionTimeS
			log.Info("Command executed",
				zap.Int("index", i),
				zap.String("kind", string(cmd.Type)),
				zap.String("target_id", cmd.TargetID),
				zap.Float64("effectiveness", a.Effectiveness),
				zap.String("status", string(a.Status)),
			)
		}
		res.PerCommandResults = append(res.PerCommandResults, r)
	}

	res.OverallSuccess = len(res.PerCommandResults) > 0
	total := 0.0
	for _, r := range res.PerCommandResults {
		total += r.Effectiveness
		if r.Status != StatusSuccess {
			res.OverallSuccess = false
		}
	}
	if n := len(res.PerCommandResults); n > 0 {
		res.AverageEffectiveness = round1(total / float64(n))
	}
	res.FinishedAt = s.now().UTC().Format(time.RFC3339)
	return res, nil
}
