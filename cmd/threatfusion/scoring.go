package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"threatfusion/internal/scoring"
	"threatfusion/internal/susceptibility"
)

// builtinTableName selects the compiled-in table in `table` subcommands.
const builtinTableName = "builtin"

func newEmitterCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "emitter <type>...",
		Short: "Look up the threat risk of one or more emitter types",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tableStore()
			if err != nil {
				return err
			}
			risks := make([]scoring.Risk, 0, len(args))
			for _, t := range args {
				risks = append(risks, store.Lookup(t))
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, risks)
			}
			for _, r := range risks {
				matched := r.MatchedKey
				if r.Fallback {
					matched += " (fallback)"
				}
				fmt.Fprintf(out, "%s: %s score=%g detection_probability=%g matched=%s\n  %s\n",
					r.EmitterType, r.Category, r.ThreatScore, r.DetectionProbability, matched, r.RecommendedAction)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print risks as JSON")
	return cmd
}

func newSignatureCmd(a *app) *cobra.Command {
	var powers []float64
	cmd := &cobra.Command{
		Use:   "signature <system>...",
		Short: "Estimate the own platform's electromagnetic signature",
		Long: "Estimate the own platform's electromagnetic signature from its active systems.\n" +
			"Powers from --power are used only when one is given per system; otherwise baselines apply.\n" +
			"With no systems the platform is in emission control.",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := a.signatureModel()
			if err != nil {
				return err
			}
			if model == nil {
				model = scoring.DefaultSignatureModel()
			}
			return writeJSON(cmd.OutOrStdout(), model.Estimate(args, powers))
		},
	}
	cmd.Flags().Float64SliceVar(&powers, "power", nil, "power in dBm for each system, in order")
	return cmd
}

func newSusceptibilityCmd(a *app) *cobra.Command {
	var req susceptibility.Request
	cmd := &cobra.Command{
		Use:   "susceptibility",
		Short: "Assess the platform against hostile emitters and propose a comms posture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tableStore()
			if err != nil {
				return err
			}
			model, err := a.signatureModel()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), susceptibility.NewAssessor(store, model).Assess(req))
		},
	}
	cmd.Flags().StringSliceVar(&req.Emitters, "emitter", nil, "hostile emitter type (repeatable)")
	cmd.Flags().StringSliceVar(&req.OwnSystems, "own-system", nil, "own radiating system (repeatable)")
	cmd.Flags().Float64SliceVar(&req.OwnPowersDBm, "power", nil, "power in dBm for each own system, in order")
	cmd.Flags().StringSliceVar(&req.PriorityChannels, "channel", nil, "priority comms channel (repeatable)")
	return cmd
}

func newTableCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect emitter risk tables",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active emitter table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.tableStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# source: %s\n", store.Source())
			fmt.Fprint(out, store.Table().Render())
			return nil
		},
	}

	diff := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show a unified diff between two emitter tables",
		Long: "Show a unified diff between two emitter table files. Use \"" + builtinTableName + "\" for the compiled-in table.\n" +
			"Relative paths are taken from the workspace root.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.loadTableArg(args[0])
			if err != nil {
				return err
			}
			to, err := a.loadTableArg(args[1])
			if err != nil {
				return err
			}
			text, err := scoring.DiffTables(from, to, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if text == "" {
				fmt.Fprintln(out, "Tables are identical.")
				return nil
			}
			fmt.Fprint(out, text)
			return nil
		},
	}

	cmd.AddCommand(show, diff)
	return cmd
}

func (a *app) loadTableArg(arg string) (*scoring.Table, error) {
	if arg == builtinTableName {
		return scoring.DefaultTable(), nil
	}
	path, err := a.ws.ResolvePath(arg)
	if err != nil {
		return nil, err
	}
	return scoring.LoadTable(path)
}
