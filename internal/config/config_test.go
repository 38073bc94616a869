package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "threatfusion", cfg.Logger.ServiceName)
	assert.Equal(t, 100.0, cfg.Fusion.ThresholdM)
	assert.Equal(t, 0.25, cfg.Fusion.MinDetectionConfidence)
	assert.Equal(t, "MEDIUM", cfg.Planner.MinThreatLevel)
	assert.Zero(t, cfg.Gate.Timeout)
	assert.Equal(t, "sidecar", cfg.Detector.Kind)
	assert.Equal(t, 30*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Daemon.LeaseFor)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "threatfusion.yaml"), []byte(`
fusion:
  threshold_m: 250
gate:
  timeout: 90s
detector:
  kind: exec
  command: ["yolo-detect", "--json"]
`), 0o644))
	t.Setenv("THREATFUSION_PLANNER_MIN_THREAT_LEVEL", "HIGH")

	v, err := Load("", dir)
	require.NoError(t, err)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.Fusion.ThresholdM)
	assert.Equal(t, 90*time.Second, cfg.Gate.Timeout)
	assert.Equal(t, []string{"yolo-detect", "--json"}, cfg.Detector.Command)
	assert.Equal(t, "HIGH", cfg.Planner.MinThreatLevel)
	assert.Equal(t, 4, cfg.Detector.Concurrency)
}

func TestLoad_MissingFiles(t *testing.T) {
	v, err := Load("", t.TempDir())
	require.NoError(t, err)
	_, err = NewConfigFromViper(v)
	require.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicit config path must exist")
}

func TestValidate_ZeroConfidenceDisablesFloor(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Fusion.MinDetectionConfidence = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold", func(c *Config) { c.Fusion.ThresholdM = 0 }},
		{"confidence", func(c *Config) { c.Fusion.MinDetectionConfidence = 1.5 }},
		{"level", func(c *Config) { c.Planner.MinThreatLevel = "SEVERE" }},
		{"gate timeout", func(c *Config) { c.Gate.Timeout = -time.Second }},
		{"exec without command", func(c *Config) { c.Detector.Kind = "exec" }},
		{"detector kind", func(c *Config) { c.Detector.Kind = "lidar" }},
		{"concurrency", func(c *Config) { c.Detector.Concurrency = 0 }},
		{"poll interval", func(c *Config) { c.Daemon.PollInterval = 0 }},
		{"lease", func(c *Config) { c.Daemon.LeaseFor = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
