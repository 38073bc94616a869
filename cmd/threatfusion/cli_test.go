package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"threatfusion/internal/actuator"
	"threatfusion/internal/config"
	"threatfusion/internal/fusion"
	"threatfusion/internal/gate"
	"threatfusion/internal/observability"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/planner"
	"threatfusion/internal/scoring"
)

func TestMain(m *testing.M) {
	// Install a quiet logger first so no test's workspace config opens a log file.
	observability.InitializeLogger(config.LoggerConfig{Level: "error", Format: "console"})
	goleak.VerifyTestMain(m)
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// initWorkspace scaffolds a fresh workspace and returns its root and sample scenario.
func initWorkspace(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	res := execute(t, "", "init", "--workspace", root)
	require.NoError(t, res.err, res.stderr)
	return root, filepath.Join(root, "samples", "drone_ku_band.yaml")
}

func TestInitScaffoldsWorkspace(t *testing.T) {
	root := t.TempDir()
	res := execute(t, "", "init", "--workspace", root)
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "Initialized workspace: "+root)
	assert.Contains(t, res.stdout, "Next steps:")
	for _, dir := range []string{"inbox", "incidents", "config", "audit", "logs"} {
		assert.DirExists(t, filepath.Join(root, dir))
	}
	for _, rel := range []string{
		filepath.Join("config", "threatfusion.yaml"),
		filepath.Join("config", "emitter_risk.yaml"),
		filepath.Join("samples", "drone_ku_band.yaml"),
		filepath.Join("audit", "audit.sqlite"),
	} {
		assert.FileExists(t, filepath.Join(root, rel))
	}

	again := execute(t, "", "init", "--workspace", root)
	require.NoError(t, again.err)
	assert.NotContains(t, again.stdout, "wrote", "existing files are kept")
}

func TestRunAutoSelectsTopPlan(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "", "run", "--workspace", root, "--auto", "--json", sample)
	require.NoError(t, res.err, res.stderr)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rep))
	require.NotNil(t, rep.Selection)
	require.NotNil(t, rep.Execution)
	assert.Equal(t, gate.StateSelected, rep.Selection.State)

	top, ok := rep.Plans.Find(rep.Selection.PlanID)
	require.True(t, ok)
	assert.Equal(t, 1, top.Rank)

	stored, err := pipeline.LoadReport(filepath.Join(root, "incidents", rep.IncidentID, pipeline.ReportFileName))
	require.NoError(t, err)
	assert.Equal(t, rep.Execution.PlanID, stored.Execution.PlanID)
}

func TestRunThresholdFlagOverridesScenario(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "", "run", "--workspace", root, "--auto", "--json", sample)
	require.NoError(t, res.err, res.stderr)
	var rep pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rep))
	require.Len(t, rep.Threats, 1)
	assert.True(t, rep.Threats[0].RadarCorrelation)

	res = execute(t, "", "run", "--workspace", root, "--auto", "--json", "--threshold", "1", sample)
	require.NoError(t, res.err, res.stderr)
	rep = pipeline.Report{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rep))
	require.Len(t, rep.Threats, 1)
	assert.False(t, rep.Threats[0].RadarCorrelation)
}

func TestRunPromptSelection(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "2\ny\n", "run", "--workspace", root, sample)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stderr, "Select plan")
	assert.Contains(t, res.stdout, "PLAN-002")
	assert.Contains(t, res.stdout, "Report: ")
}

func TestRunPromptDecline(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "q\n", "run", "--workspace", root, sample)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, gate.ErrDeclined)
	assert.Equal(t, exitDeclined, exitCode(res.err))

	entries, err := os.ReadDir(filepath.Join(root, "incidents"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.FileExists(t, filepath.Join(root, "incidents", entries[0].Name(), planner.BatchFileName))
	assert.NoFileExists(t, filepath.Join(root, "incidents", entries[0].Name(), pipeline.ReportFileName))
}

func TestRunRejectsUnofferedPlan(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "", "run", "--workspace", root, "--select", "PLAN-999", sample)
	require.Error(t, res.err)

	var invalid *gate.InvalidSelectionError
	require.True(t, errors.As(res.err, &invalid), "got %v", res.err)
	assert.Equal(t, "PLAN-999", invalid.PlanID)
	assert.Equal(t, exitFailure, exitCode(res.err))
}

func TestSelectFlagsAreExclusive(t *testing.T) {
	root, sample := initWorkspace(t)
	res := execute(t, "", "run", "--workspace", root, "--auto", "--select", "PLAN-001", sample)
	assert.Error(t, res.err)
}

func TestFuseAndClassify(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "", "fuse", "--workspace", root, sample)
	require.NoError(t, res.err, res.stderr)
	var threats []fusion.FusedThreat
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &threats))
	require.Len(t, threats, 1)
	assert.True(t, threats[0].RadarCorrelation)

	// A tiny threshold leaves the detection uncorrelated.
	res = execute(t, "", "fuse", "--workspace", root, "--threshold", "1", sample)
	require.NoError(t, res.err)
	threats = nil
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &threats))
	require.Len(t, threats, 1)
	assert.False(t, threats[0].RadarCorrelation)

	res = execute(t, "", "classify", "--workspace", root, sample)
	require.NoError(t, res.err)
	var assessments []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &assessments))
	require.Len(t, assessments, 1)
	assert.Equal(t, "drone", assessments[0]["threat_type"])
}

func TestPlanThenExecute(t *testing.T) {
	root, sample := initWorkspace(t)

	res := execute(t, "", "plan", "--workspace", root, "--incident", "inc-cli", sample)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "PLAN-001")

	dir := filepath.Join(root, "incidents", "inc-cli")
	batch, err := planner.LoadBatch(filepath.Join(dir, planner.BatchFileName))
	require.NoError(t, err)
	assert.Equal(t, "inc-cli", batch.IncidentID)
	assert.GreaterOrEqual(t, len(batch.Plans), 2)

	res = execute(t, "", "execute", "--workspace", root, "--select", "PLAN-001", dir)
	require.NoError(t, res.err, res.stderr)
	var result actuator.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result))
	assert.Equal(t, "inc-cli", result.IncidentID)
	assert.Equal(t, "PLAN-001", result.PlanID)
	assert.NotEmpty(t, result.PerCommandResults)

	res = execute(t, "", "execute", "--workspace", root, "--select", "PLAN-404", dir)
	assert.Error(t, res.err)
}

func TestEmitterLookup(t *testing.T) {
	root := t.TempDir()

	res := execute(t, "", "emitter", "--workspace", root, "--json", "Fire Control Radar", "mystery-box")
	require.NoError(t, res.err)
	var risks []scoring.Risk
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &risks))
	require.Len(t, risks, 2)
	assert.Equal(t, "fire_control_radar", risks[0].MatchedKey)
	assert.Equal(t, scoring.CategoryCritical, risks[0].Category)
	assert.True(t, risks[1].Fallback)

	res = execute(t, "", "emitter", "--workspace", root, "fire_control_radar")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "fire_control_radar: critical score=95")
}

func TestSignatureEmissionControl(t *testing.T) {
	res := execute(t, "", "signature", "--workspace", t.TempDir())
	require.NoError(t, res.err)
	var sig scoring.Signature
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &sig))
	assert.True(t, sig.EMCON)
	assert.Empty(t, sig.ActiveSystems)
}

func TestSusceptibility(t *testing.T) {
	res := execute(t, "", "susceptibility", "--workspace", t.TempDir(),
		"--emitter", "fire_control_radar", "--own-system", "radar", "--own-system", "datalink")
	require.NoError(t, res.err)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, string(scoring.CategoryCritical), out["overall_category"])
	assert.Equal(t, true, out["stealth_recommended"])
}

func TestTableDiff(t *testing.T) {
	root, _ := initWorkspace(t)
	tablePath := filepath.Join(root, "config", "emitter_risk.yaml")

	res := execute(t, "", "table", "diff", "--workspace", root, "builtin", tablePath)
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "Tables are identical.\n", res.stdout)

	edited := scoring.DefaultTable()
	edited.Entries[0].ThreatScore = 1
	data, err := yaml.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "edited.yaml"), data, 0o644))

	res = execute(t, "", "table", "diff", "--workspace", root, "builtin", "edited.yaml")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "--- builtin")
	assert.Contains(t, res.stdout, "+++ edited.yaml")
	assert.Contains(t, res.stdout, "+"+edited.Entries[0].Key+": score=1 ")

	res = execute(t, "", "table", "show", "--workspace", root)
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "# source: "+scoring.SourceFile))
}

func TestDaemonStatusOnFreshWorkspace(t *testing.T) {
	root, _ := initWorkspace(t)
	res := execute(t, "", "daemon", "status", "--workspace", root)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Last run: never")
	assert.Contains(t, res.stdout, "Running jobs: 0")
	assert.Contains(t, res.stdout, "Queued jobs (next 0):")
}

func TestBadConfigFails(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fusion:\n  threshold_m: -5\n"), 0o644))

	res := execute(t, "", "emitter", "--workspace", root, "--config", path, "radar")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "threshold_m")
}
