package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"threatfusion/integration/harness"
)

func TestDaemonSmoke(t *testing.T) {
	bin := harness.Binary(t)
	root := t.TempDir()
	if res := harness.Run(t, bin, harness.Command{Dir: root, Args: []string{"init", "--workspace", root}}); res.Code != 0 {
		t.Fatalf("threatfusion init: %s", res)
	}

	env := map[string]string{
		"THREATFUSION_DAEMON_SCAN_INTERVAL": "100ms",
		"THREATFUSION_DAEMON_NOTIFICATIONS": "false",
		"THREATFUSION_SCORING_WATCH":        "false",
	}
	proc := harness.Start(t, bin, harness.Command{
		Dir:  root,
		Args: []string{"daemon", "run", "--workspace", root, "--poll", "50ms"},
		Env:  env,
	})

	sample, err := os.ReadFile(filepath.Join(root, "samples", "drone_ku_band.yaml"))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "inbox", "drone.yaml"), sample, 0o644); err != nil {
		t.Fatalf("drop scenario: %v", err)
	}

	plansPath := waitForGlob(t, filepath.Join(root, "incidents", "*", "plans.json"), 20*time.Second)
	incidentDir := filepath.Dir(plansPath)
	incidentID := filepath.Base(incidentDir)

	selection, err := json.Marshal(map[string]any{
		"schema_version": "1.0",
		"incident_id":    incidentID,
		"plan_id":        "PLAN-001",
		"operator":       "smoke-test",
	})
	if err != nil {
		t.Fatalf("marshal selection: %v", err)
	}
	tmp := filepath.Join(incidentDir, ".selection.json.tmp")
	if err := os.WriteFile(tmp, selection, 0o644); err != nil {
		t.Fatalf("write selection: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(incidentDir, "selection.json")); err != nil {
		t.Fatalf("publish selection: %v", err)
	}

	waitForGlob(t, filepath.Join(incidentDir, "report.json"), 20*time.Second)

	res := proc.Interrupt(t, 10*time.Second)
	if res.Code != 0 {
		t.Fatalf("daemon exit: %s", res)
	}
	if !strings.Contains(res.Stdout, "Starting daemon for workspace: "+root) {
		t.Fatalf("unexpected daemon output:\n%s", res.Stdout)
	}

	status := harness.Run(t, bin, harness.Command{Dir: root, Args: []string{"daemon", "status", "--workspace", root}})
	if status.Code != 0 {
		t.Fatalf("daemon status: %s", status)
	}
	for _, want := range []string{"status=stopped", "[incident_run] status=succeeded", `"plan_id":"PLAN-001"`} {
		if !strings.Contains(status.Stdout, want) {
			t.Fatalf("daemon status missing %q:\n%s", want, status.Stdout)
		}
	}

	requireAuditEvents(t, filepath.Join(root, "audit", "audit.sqlite"), []string{
		"daemon_started",
		"job_succeeded",
		"execution_finished",
		"daemon_stopped",
	})
}

func waitForGlob(t *testing.T, pattern string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			t.Fatalf("glob %s: %v", pattern, err)
		}
		if len(matches) > 0 {
			return matches[0]
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", pattern)
	return ""
}
