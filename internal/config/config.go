// Package config loads threatfusion settings from defaults, a YAML file and
// THREATFUSION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the working directory and the
// workspace config directory.
const FileName = "threatfusion"

// EnvPrefix namespaces environment overrides, e.g. THREATFUSION_GATE_TIMEOUT.
const EnvPrefix = "THREATFUSION"

type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Fusion   FusionConfig   `mapstructure:"fusion" yaml:"fusion"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Gate     GateConfig     `mapstructure:"gate" yaml:"gate"`
	Scoring  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector"`
	Daemon   DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color of each level in console format.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

type FusionConfig struct {
	ThresholdM             float64 `mapstructure:"threshold_m" yaml:"threshold_m"`
	MinDetectionConfidence float64 `mapstructure:"min_detection_confidence" yaml:"min_detection_confidence"`
}

type PlannerConfig struct {
	// MinThreatLevel is the lowest classified level that gets planned for.
	MinThreatLevel string `mapstructure:"min_threat_level" yaml:"min_threat_level"`
}

type GateConfig struct {
	// Timeout bounds the wait for a selection. Zero waits indefinitely.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ScoringConfig struct {
	TablePath     string `mapstructure:"table_path" yaml:"table_path"`
	BaselinesPath string `mapstructure:"baselines_path" yaml:"baselines_path"`
	Watch         bool   `mapstructure:"watch" yaml:"watch"`
}

type DetectorConfig struct {
	Kind        string        `mapstructure:"kind" yaml:"kind"`
	Command     []string      `mapstructure:"command" yaml:"command"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

type DaemonConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LeaseFor      time.Duration `mapstructure:"lease_for" yaml:"lease_for"`
	ScanInterval  time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	Notifications bool          `mapstructure:"notifications" yaml:"notifications"`
}

// NewDefaultConfig returns the configuration with every default applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "threatfusion")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Fusion --
	v.SetDefault("fusion.threshold_m", 100.0)
	v.SetDefault("fusion.min_detection_confidence", 0.25)

	// -- Planner / gate --
	v.SetDefault("planner.min_threat_level", "MEDIUM")
	v.SetDefault("gate.timeout", "0s")

	// -- Scoring --
	v.SetDefault("scoring.table_path", "")
	v.SetDefault("scoring.baselines_path", "")
	v.SetDefault("scoring.watch", false)

	// -- Detector --
	v.SetDefault("detector.kind", "sidecar")
	v.SetDefault("detector.command", []string{})
	v.SetDefault("detector.timeout", "30s")
	v.SetDefault("detector.concurrency", 4)

	// -- Daemon --
	v.SetDefault("daemon.poll_interval", "2s")
	v.SetDefault("daemon.lease_for", "10m")
	v.SetDefault("daemon.scan_interval", "5s")
	v.SetDefault("daemon.notifications", true)
}

// Load builds a viper instance over defaults, the environment and, when
// present, a config file. An explicit path must exist; otherwise the file is
// searched for in searchDirs and its absence is not an error.
func Load(path string, searchDirs ...string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, dir := range searchDirs {
			if dir != "" {
				v.AddConfigPath(dir)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" || len(searchDirs) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if path != "" || !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	return v, nil
}

// NewConfigFromViper decodes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var threatLevels = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true, "CRITICAL": true}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Fusion.ThresholdM <= 0 {
		return fmt.Errorf("fusion.threshold_m must be positive")
	}
	if c.Fusion.MinDetectionConfidence < 0 || c.Fusion.MinDetectionConfidence > 1 {
		return fmt.Errorf("fusion.min_detection_confidence must be between 0.0 and 1.0")
	}
	if !threatLevels[strings.ToUpper(strings.TrimSpace(c.Planner.MinThreatLevel))] {
		return fmt.Errorf("planner.min_threat_level %q is not one of LOW, MEDIUM, HIGH, CRITICAL", c.Planner.MinThreatLevel)
	}
	if c.Gate.Timeout < 0 {
		return fmt.Errorf("gate.timeout must not be negative")
	}
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector configuration invalid: %w", err)
	}
	if err := c.Daemon.Validate(); err != nil {
		return fmt.Errorf("daemon configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the detector settings.
func (d *DetectorConfig) Validate() error {
	switch strings.ToLower(d.Kind) {
	case "", "sidecar":
	case "exec":
		if len(d.Command) == 0 {
			return fmt.Errorf("command is required for the exec detector")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	if d.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if d.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Validate checks the daemon settings.
func (d *DaemonConfig) Validate() error {
	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if d.LeaseFor <= 0 {
		return fmt.Errorf("lease_for must be a positive duration")
	}
	if d.ScanInterval <= 0 {
		return fmt.Errorf("scan_interval must be a positive duration")
	}
	return nil
}
