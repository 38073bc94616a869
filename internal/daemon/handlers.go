package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"threatfusion/internal/notify"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/planner"
	"threatfusion/internal/sensors"
)

// handleIncidentRun loads the scenario named in the payload and runs it
// through a fresh pipeline. The gate waits on selection.json and is bounded
// by the job lease.
func (d *Daemon) handleIncidentRun(ctx context.Context, job *Job) (any, error) {
	var payload IncidentPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if payload.ScenarioPath == "" {
		return nil, fmt.Errorf("payload has no scenario_path")
	}

	sc, err := sensors.LoadScenario(payload.ScenarioPath)
	if err != nil {
		title, msg := notify.FormatFailed(payload.ScenarioPath, "load", err)
		d.notify(title, msg)
		return nil, err
	}

	cfg := d.pipeline
	cfg.IncidentsDir = d.Workspace.IncidentsDir
	cfg.Audit = d.AuditLogger
	cfg.Logger = d.logger
	if cfg.GatePolicy.Timeout <= 0 || cfg.GatePolicy.Timeout > d.LeaseFor {
		cfg.GatePolicy.Timeout = d.LeaseFor
	}
	cfg.OnOffer = func(b planner.Batch, threats int) {
		d.logger.Info("Plans awaiting selection",
			zap.String("incident_id", b.IncidentID),
			zap.Strings("plan_ids", b.IDs()))
		title, msg := notify.FormatAwaitingSelection(b.IncidentID, len(b.Plans), threats)
		d.notify(title, msg)
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	decider := &FileDecider{
		IncidentsDir: d.Workspace.IncidentsDir,
		PollInterval: d.PollInterval,
		Logger:       d.logger,
	}
	rep, err := p.Run(ctx, sc, decider)
	if err != nil {
		var f *pipeline.Failure
		if errors.As(err, &f) {
			title, msg := notify.FormatFailed(f.IncidentID, string(f.Stage), f.Err)
			d.notify(title, msg)
		}
		return nil, err
	}

	title, msg := notify.FormatExecuted(rep.IncidentID, rep.Selection.PlanID, rep.Execution.OverallSuccess, rep.Execution.AverageEffectiveness)
	d.notify(title, msg)
	return map[string]any{
		"incident_id":           rep.IncidentID,
		"scenario":              payload.ScenarioPath,
		"plan_id":               rep.Selection.PlanID,
		"overall_success":       rep.Execution.OverallSuccess,
		"average_effectiveness": rep.Execution.AverageEffectiveness,
	}, nil
}
