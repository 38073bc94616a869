package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threatfusion/internal/audit"
	"threatfusion/internal/classify"
	"threatfusion/internal/config"
	"threatfusion/internal/detectors"
	"threatfusion/internal/gate"
	"threatfusion/internal/observability"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/scoring"
	"threatfusion/internal/workspace"
)

const appName = "threatfusion"

// app carries what the persistent pre-run resolves for every subcommand.
type app struct {
	configPath    string
	workspacePath string

	cfg    *config.Config
	ws     *workspace.Workspace
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Multi-sensor threat fusion and countermeasure decision support",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default is ./threatfusion.yaml, then <workspace>/config/threatfusion.yaml)")
	root.PersistentFlags().StringVarP(&a.workspacePath, "workspace", "w", ".", "workspace root")

	root.AddCommand(
		newInitCmd(a),
		newRunCmd(a),
		newFuseCmd(a),
		newClassifyCmd(a),
		newPlanCmd(a),
		newExecuteCmd(a),
		newEmitterCmd(a),
		newSignatureCmd(a),
		newSusceptibilityCmd(a),
		newTableCmd(a),
		newDaemonCmd(a),
	)
	return root
}

// setup resolves the workspace, loads configuration and installs the logger.
// Relative paths in the config are taken from the workspace root.
func (a *app) setup() error {
	ws, err := workspace.New(a.workspacePath)
	if err != nil {
		return err
	}
	v, err := config.Load(a.configPath, ".", ws.ConfigDir)
	if err != nil {
		observability.InitializeLogger(config.NewDefaultConfig().Logger)
		return err
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.NewDefaultConfig().Logger)
		return err
	}
	if cfg.Logger.LogFile, err = ws.ResolvePath(cfg.Logger.LogFile); err != nil {
		return fmt.Errorf("resolve log file: %w", err)
	}
	observability.InitializeLogger(cfg.Logger)

	a.cfg = cfg
	a.ws = ws
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded",
		zap.String("workspace", ws.Root),
		zap.String("config", v.ConfigFileUsed()))
	return nil
}

// tableStore opens the configured emitter table. Without a configured path
// the workspace table is used when present, else the built-in table.
func (a *app) tableStore() (*scoring.TableStore, error) {
	path, err := a.ws.ResolvePath(a.cfg.Scoring.TablePath)
	if err != nil {
		return nil, fmt.Errorf("resolve scoring table: %w", err)
	}
	if path == "" {
		if _, err := os.Stat(a.ws.ScoringTablePath()); err == nil {
			path = a.ws.ScoringTablePath()
		}
	}
	return scoring.NewTableStore(path, a.logger), nil
}

// signatureModel returns nil when no baselines file is configured; consumers
// fall back to the built-in baselines.
func (a *app) signatureModel() (*scoring.SignatureModel, error) {
	path, err := a.ws.ResolvePath(a.cfg.Scoring.BaselinesPath)
	if err != nil {
		return nil, fmt.Errorf("resolve baselines: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	return scoring.LoadSignatureModel(path)
}

func (a *app) minThreatLevel() (classify.Level, error) {
	level, ok := classify.ParseLevel(a.cfg.Planner.MinThreatLevel)
	if !ok {
		return "", fmt.Errorf("unknown threat level %q", a.cfg.Planner.MinThreatLevel)
	}
	return level, nil
}

func (a *app) auditLogger() *audit.Logger {
	return audit.NewLogger(a.ws.AuditDBPath)
}

// pipelineConfig builds the pipeline template shared by run and the daemon.
func (a *app) pipelineConfig(risk scoring.Lookuper) (pipeline.Config, error) {
	level, err := a.minThreatLevel()
	if err != nil {
		return pipeline.Config{}, err
	}
	det, err := detectors.New(detectors.Config{
		Kind:          a.cfg.Detector.Kind,
		Command:       a.cfg.Detector.Command,
		Timeout:       a.cfg.Detector.Timeout,
		TranscriptDir: a.ws.LogsDir,
	})
	if err != nil {
		return pipeline.Config{}, err
	}
	sig, err := a.signatureModel()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		ThresholdM:             a.cfg.Fusion.ThresholdM,
		MinDetectionConfidence: a.cfg.Fusion.MinDetectionConfidence,
		MinThreatLevel:         level,
		GatePolicy:             gate.Policy{Timeout: a.cfg.Gate.Timeout},
		Detector:               det,
		DetectorConcurrency:    a.cfg.Detector.Concurrency,
		Risk:                   risk,
		Signature:              sig,
		Logger:                 a.logger,
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
