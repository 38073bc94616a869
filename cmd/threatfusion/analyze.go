package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threatfusion/internal/actuator"
	"threatfusion/internal/audit"
	"threatfusion/internal/classify"
	"threatfusion/internal/fusion"
	"threatfusion/internal/gate"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/planner"
	"threatfusion/internal/scoring"
	"threatfusion/internal/sensors"
)

// analysis is a scenario taken through detection and fusion.
type analysis struct {
	scenario sensors.Scenario
	threats  []fusion.FusedThreat
	risk     *scoring.TableStore
}

// fuseScenario loads a scenario, runs its images through the configured
// detector and correlates the detections with radar. A positive thresholdM
// overrides both the scenario and the config.
func (a *app) fuseScenario(ctx context.Context, path string, thresholdM float64) (analysis, error) {
	sc, err := sensors.LoadScenario(path)
	if err != nil {
		return analysis{}, err
	}
	store, err := a.tableStore()
	if err != nil {
		return analysis{}, err
	}
	cfg, err := a.pipelineConfig(store)
	if err != nil {
		return analysis{}, err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return analysis{}, err
	}
	dets, err := p.Detections(ctx, sc)
	if err != nil {
		return analysis{}, err
	}

	threshold := thresholdM
	if threshold <= 0 {
		threshold = sc.ThresholdM
	}
	if threshold <= 0 {
		threshold = a.cfg.Fusion.ThresholdM
	}
	threats, err := fusion.Correlate(dets, p.Traces(sc), threshold)
	if err != nil {
		return analysis{}, err
	}
	return analysis{scenario: sc, threats: threats, risk: store}, nil
}

func newFuseCmd(a *app) *cobra.Command {
	var thresholdM float64
	cmd := &cobra.Command{
		Use:   "fuse <scenario>",
		Short: "Correlate a scenario's visual detections with its radar traces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.fuseScenario(cmd.Context(), args[0], thresholdM)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res.threats)
		},
	}
	cmd.Flags().Float64Var(&thresholdM, "threshold", 0, "correlation threshold in metres (default: scenario, then config)")
	return cmd
}

func newClassifyCmd(a *app) *cobra.Command {
	var thresholdM float64
	cmd := &cobra.Command{
		Use:   "classify <scenario>",
		Short: "Fuse a scenario and classify every resulting threat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.fuseScenario(cmd.Context(), args[0], thresholdM)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), classify.New(res.risk).ClassifyAll(res.threats))
		},
	}
	cmd.Flags().Float64Var(&thresholdM, "threshold", 0, "correlation threshold in metres (default: scenario, then config)")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		thresholdM float64
		incidentID string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "plan <scenario>",
		Short: "Generate ranked countermeasure plans for a scenario without executing any",
		Long: "Generate ranked countermeasure plans and write them as plans.json, by default\n" +
			"into the incident directory. Use `execute` to pass one through the decision gate.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.fuseScenario(cmd.Context(), args[0], thresholdM)
			if err != nil {
				return err
			}
			level, err := a.minThreatLevel()
			if err != nil {
				return err
			}
			gen, err := planner.NewGenerator(actuator.NewSimulator(a.logger), planner.GenerateOptions{MinLevel: level})
			if err != nil {
				return err
			}
			if incidentID == "" {
				incidentID = uuid.NewString()
			}
			batch, err := gen.Generate(incidentID, classify.New(res.risk).ClassifyAll(res.threats))
			if err != nil {
				return err
			}

			path := outPath
			if path == "" {
				path = filepath.Join(a.ws.IncidentDir(incidentID), planner.BatchFileName)
			}
			if err := planner.WriteBatch(path, batch); err != nil {
				return err
			}
			if err := a.auditLogger().LogEvent("cli", audit.EventPlansGenerated, incidentID, map[string]any{
				"scenario": args[0],
				"plan_ids": batch.IDs(),
				"path":     path,
			}); err != nil {
				a.logger.Warn("Audit write failed", zap.Error(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, gate.RenderOffer(incidentID, batch.Plans))
			fmt.Fprintf(out, "Plans written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Float64Var(&thresholdM, "threshold", 0, "correlation threshold in metres (default: scenario, then config)")
	cmd.Flags().StringVar(&incidentID, "incident", "", "incident id (default: a new UUID)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: <workspace>/incidents/<id>/plans.json)")
	return cmd
}

func newExecuteCmd(a *app) *cobra.Command {
	var sel selectionFlags
	cmd := &cobra.Command{
		Use:   "execute <plans.json | incident dir>",
		Short: "Pass a stored plan batch through the decision gate and execute the chosen plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := planner.ResolveBatchPath(args[0])
			if err != nil {
				return err
			}
			batch, err := planner.LoadBatch(path)
			if err != nil {
				return err
			}
			g, err := gate.New(batch.IncidentID, batch, gate.Policy{Timeout: a.cfg.Gate.Timeout})
			if err != nil {
				return err
			}
			log := a.auditLogger()

			plan, err := g.Await(cmd.Context(), sel.decider(cmd))
			if err != nil {
				_ = log.LogEvent("cli", audit.EventSelectionRejected, batch.IncidentID, map[string]any{"error": err.Error()})
				return err
			}
			_ = log.LogEvent("cli", audit.EventPlanSelected, batch.IncidentID, map[string]any{
				"plan_id":   plan.PlanID,
				"plan_name": plan.PlanName,
			})

			result, err := actuator.NewSimulator(a.logger).Execute(cmd.Context(), batch.IncidentID, plan)
			if err != nil {
				return err
			}
			_ = log.LogEvent("cli", audit.EventExecutionFinished, batch.IncidentID, map[string]any{
				"plan_id":               result.PlanID,
				"overall_success":       result.OverallSuccess,
				"average_effectiveness": result.AverageEffectiveness,
				"finished_at":           result.FinishedAt,
			})
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	sel.register(cmd)
	return cmd
}
