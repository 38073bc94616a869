package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"threatfusion/internal/gate"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/planner"
	"threatfusion/internal/sensors"
)

type selectionFlags struct {
	planID string
	auto   bool
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.planID, "select", "", "select this plan id without prompting")
	cmd.Flags().BoolVar(&f.auto, "auto", false, "select the rank 1 plan without prompting")
	cmd.MarkFlagsMutuallyExclusive("select", "auto")
}

// decider picks the gate resolution named by the flags, prompting on the
// terminal when neither is set. Prompts go to stderr.
func (f *selectionFlags) decider(cmd *cobra.Command) gate.Decider {
	switch {
	case f.planID != "":
		id := f.planID
		return gate.DecisionFunc(func(context.Context, string, []planner.Plan) (string, error) {
			return id, nil
		})
	case f.auto:
		return gate.DecisionFunc(func(_ context.Context, _ string, plans []planner.Plan) (string, error) {
			for _, p := range plans {
				if p.Rank == 1 {
					return p.PlanID, nil
				}
			}
			return "", errors.New("no rank 1 plan offered")
		})
	default:
		return gate.PromptDecider{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
	}
}

func newRunCmd(a *app) *cobra.Command {
	var (
		sel        selectionFlags
		asJSON     bool
		thresholdM float64
	)
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario through fusion, classification, planning, the decision gate and actuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := sensors.LoadScenario(args[0])
			if err != nil {
				return err
			}
			if thresholdM > 0 {
				sc.ThresholdM = thresholdM
			}
			if err := a.ws.EnsureDirs(); err != nil {
				return err
			}
			store, err := a.tableStore()
			if err != nil {
				return err
			}
			cfg, err := a.pipelineConfig(store)
			if err != nil {
				return err
			}
			cfg.IncidentsDir = a.ws.IncidentsDir
			cfg.Audit = a.auditLogger()

			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			rep, err := p.Run(cmd.Context(), sc, sel.decider(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rep)
			}
			fmt.Fprint(out, pipeline.RenderSummary(rep))
			fmt.Fprintf(out, "\nReport: %s\n", filepath.Join(a.ws.IncidentDir(rep.IncidentID), pipeline.ReportFileName))
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.Flags().Float64Var(&thresholdM, "threshold", 0, "correlation threshold in metres (default: scenario, then config)")
	return cmd
}
