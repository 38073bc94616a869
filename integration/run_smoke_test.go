package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"threatfusion/integration/harness"
)

// initFixtureWorkspace scaffolds a workspace and copies the image scenario into it.
func initFixtureWorkspace(t *testing.T, bin string) (string, string) {
	t.Helper()
	root := t.TempDir()
	if res := harness.Run(t, bin, harness.Command{Dir: root, Args: []string{"init", "--workspace", root}}); res.Code != 0 {
		t.Fatalf("threatfusion init: %s", res)
	}
	harness.CopyFixture(t, "scenario-images", filepath.Join(root, "scenarios"))
	return root, filepath.Join(root, "scenarios", "scenario.yaml")
}

func TestHelpSmoke(t *testing.T) {
	bin := harness.Binary(t)
	res := harness.Run(t, bin, harness.Command{Dir: t.TempDir(), Args: []string{"--help"}})
	if res.Code != 0 {
		t.Fatalf("threatfusion --help: %s", res)
	}
	for _, want := range []string{"Multi-sensor threat fusion", "daemon", "susceptibility"} {
		if !strings.Contains(res.Stdout, want) {
			t.Fatalf("help output missing %q:\n%s", want, res.Stdout)
		}
	}
}

func TestRunSmoke(t *testing.T) {
	bin := harness.Binary(t)
	root, scenario := initFixtureWorkspace(t, bin)

	res := harness.Run(t, bin, harness.Command{
		Dir:  t.TempDir(),
		Args: []string{"run", "--workspace", root, "--select", "PLAN-001", "--json", scenario},
	})
	if res.Code != 0 {
		t.Fatalf("threatfusion run: %s", res)
	}

	var rep struct {
		IncidentID string           `json:"incident_id"`
		Detections []map[string]any `json:"detections"`
		Threats    []map[string]any `json:"threats"`
		Selection  struct {
			PlanID string `json:"plan_id"`
		} `json:"selection"`
		Execution struct {
			PlanID            string           `json:"plan_id"`
			PerCommandResults []map[string]any `json:"per_command_results"`
		} `json:"execution"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &rep); err != nil {
		t.Fatalf("parse report: %v\n%s", err, res.Stdout)
	}
	// The drone frame is guessed from its name; the sidecar contributes the
	// boat, while its low-confidence bird and error entry are dropped.
	if len(rep.Detections) != 2 || len(rep.Threats) != 2 {
		t.Fatalf("expected 2 detections and 2 threats, got %d and %d", len(rep.Detections), len(rep.Threats))
	}
	if rep.Selection.PlanID != "PLAN-001" || rep.Execution.PlanID != "PLAN-001" {
		t.Fatalf("unexpected selection %+v / execution plan %s", rep.Selection, rep.Execution.PlanID)
	}
	if len(rep.Execution.PerCommandResults) == 0 {
		t.Fatal("expected per-command results")
	}

	incidentDir := filepath.Join(root, "incidents", rep.IncidentID)
	for _, name := range []string{"plans.json", "report.json"} {
		if _, err := os.Stat(filepath.Join(incidentDir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	requireAuditEvents(t, filepath.Join(root, "audit", "audit.sqlite"), []string{
		"incident_started",
		"fusion_completed",
		"plans_generated",
		"plan_selected",
		"execution_finished",
	})
}

func TestRunInvalidSelectionSmoke(t *testing.T) {
	bin := harness.Binary(t)
	root, scenario := initFixtureWorkspace(t, bin)

	res := harness.Run(t, bin, harness.Command{
		Dir:  t.TempDir(),
		Args: []string{"run", "--workspace", root, "--select", "PLAN-999", scenario},
	})
	if res.Code != 1 {
		t.Fatalf("expected exit 1 for an unoffered plan: %s", res)
	}
	if !strings.Contains(res.Stderr, "PLAN-999") {
		t.Fatalf("expected the rejected plan id in stderr:\n%s", res.Stderr)
	}
	requireAuditEvents(t, filepath.Join(root, "audit", "audit.sqlite"), []string{
		"selection_rejected",
		"incident_failed",
	})
}

func TestRunDeclineSmoke(t *testing.T) {
	bin := harness.Binary(t)
	root, scenario := initFixtureWorkspace(t, bin)

	res := harness.Run(t, bin, harness.Command{
		Dir:   t.TempDir(),
		Args:  []string{"run", "--workspace", root, scenario},
		Stdin: "q\n",
	})
	if res.Code != 2 {
		t.Fatalf("expected exit 2 when the operator declines: %s", res)
	}
	if !strings.Contains(res.Stderr, "Select plan") {
		t.Fatalf("expected the selection prompt on stderr:\n%s", res.Stderr)
	}
}
