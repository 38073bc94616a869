package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"threatfusion/internal/scoring"
)

// SamplesDir holds example scenarios. Copy one into the inbox to trigger the daemon.
const SamplesDir = "samples"

// Scaffold creates the workspace directories and writes a default config,
// the built-in emitter table and a sample scenario. Existing files are kept.
// It returns the files it wrote.
func (w *Workspace) Scaffold() ([]string, error) {
	if err := w.EnsureDirs(); err != nil {
		return nil, err
	}
	table, err := yaml.Marshal(scoring.DefaultTable())
	if err != nil {
		return nil, fmt.Errorf("render scoring table: %w", err)
	}

	files := []struct {
		path     string
		contents string
	}{
		{w.ConfigPath(), defaultConfigTemplate},
		{w.ScoringTablePath(), string(table)},
		{filepath.Join(w.Root, SamplesDir, "drone_ku_band.yaml"), sampleScenarioTemplate},
	}
	var written []string
	for _, f := range files {
		created, err := writeFileIfMissing(f.path, f.contents)
		if err != nil {
			return written, err
		}
		if created {
			written = append(written, f.path)
		}
	}
	return written, nil
}

func writeFileIfMissing(path string, contents string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const defaultConfigTemplate = `logger:
  level: info
  format: console
  log_file: logs/threatfusion.log

fusion:
  threshold_m: 100
  min_detection_confidence: 0.25

planner:
  min_threat_level: MEDIUM

gate:
  # 0s waits for an operator indefinitely.
  timeout: 15m

scoring:
  table_path: config/emitter_risk.yaml
  watch: true

detector:
  kind: sidecar
  concurrency: 4
  timeout: 30s

daemon:
  poll_interval: 2s
  lease_for: 30m
  scan_interval: 5s
  notifications: true
`

const sampleScenarioTemplate = `name: drone-ku-band
description: Rotary-wing drone closing on the platform, tracked on Ku band.
threshold_m: 3000
detections:
  - source_image_id: cam1_0001.jpg
    object_type: drone
    confidence: 0.8
    bounding_box: {x: 320, y: 240, width: 150, height: 120}
radar_traces:
  - trace_id: TRK-001
    range_km: 2.5
    bearing_degrees: 45
    velocity_mps: 25
    doppler_frequency_hz: 55
    band: Ku
emitters:
  - fire_control_radar
own_systems:
  - radar
  - datalink
`
