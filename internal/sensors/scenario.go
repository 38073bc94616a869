package sensors

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ImageRef points at one camera frame to be run through a detector.
type ImageRef struct {
	Path     string `json:"path" yaml:"path"`
	CameraID string `json:"camera_id,omitempty" yaml:"camera_id,omitempty"`
}

// Scenario is one incident's worth of sensor input. DetectionsFile and
// RadarFile name optional external feeds; a feed that is missing or malformed
// contributes nothing.
type Scenario struct {
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description,omitempty" yaml:"description,omitempty"`
	ThresholdM     float64           `json:"threshold_m,omitempty" yaml:"threshold_m,omitempty"`
	Images         []ImageRef        `json:"images,omitempty" yaml:"images,omitempty"`
	Detections     []DetectionRecord `json:"detections" yaml:"detections"`
	DetectionsFile string            `json:"detections_file,omitempty" yaml:"detections_file,omitempty"`
	RadarFile      string            `json:"radar_file,omitempty" yaml:"radar_file,omitempty"`
	Traces         []RadarTrace      `json:"radar_traces" yaml:"radar_traces"`
	Emitters       []string          `json:"emitters,omitempty" yaml:"emitters,omitempty"`
	OwnSystems     []string          `json:"own_systems,omitempty" yaml:"own_systems,omitempty"`
}

type rawScenario struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	ThresholdM     float64        `yaml:"threshold_m"`
	Images         []ImageRef     `yaml:"images"`
	Detections     []rawDetection `yaml:"detections"`
	DetectionsFile string         `yaml:"detections_file"`
	RadarFile      string         `yaml:"radar_file"`
	Traces         []rawTrace     `yaml:"traces"`
	RadarTraces    []rawTrace     `yaml:"radar_traces"`
	Emitters       []string       `yaml:"emitters"`
	OwnSystems     []string       `yaml:"own_systems"`
}

// LoadScenario reads a YAML or JSON scenario file. Relative image paths are
// resolved against the scenario's directory.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data, path)
}

// ParseScenario shapes scenario bytes. source doubles as the base path for images.
func ParseScenario(data []byte, source string) (Scenario, error) {
	var raw rawScenario
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Scenario{}, &InputParseError{Source: source, Err: err}
	}

	sc := Scenario{
		Name:        strings.TrimSpace(raw.Name),
		Description: raw.Description,
		ThresholdM:  raw.ThresholdM,
		Emitters:    raw.Emitters,
		OwnSystems:  raw.OwnSystems,
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	if sc.ThresholdM < 0 {
		return Scenario{}, &InputParseError{Source: source, Err: ValidationErrors{{Source: source, Field: "threshold_m", Message: "must be non-negative"}}}
	}

	baseDir := filepath.Dir(source)
	sc.DetectionsFile = resolveFeed(baseDir, raw.DetectionsFile)
	sc.RadarFile = resolveFeed(baseDir, raw.RadarFile)
	for _, img := range raw.Images {
		if strings.TrimSpace(img.Path) == "" {
			return Scenario{}, &InputParseError{Source: source, Err: ValidationErrors{{Source: source, Field: "images", Message: "image path is required"}}}
		}
		if !filepath.IsAbs(img.Path) {
			img.Path = filepath.Join(baseDir, img.Path)
		}
		sc.Images = append(sc.Images, img)
	}

	dets, err := shapeDetections(rawDetectionDocument{Detections: raw.Detections}, source+":detections")
	if err != nil {
		return Scenario{}, err
	}
	sc.Detections = dets

	traces, err := shapeTraces(append(raw.Traces, raw.RadarTraces...), source+":radar_traces")
	if err != nil {
		return Scenario{}, err
	}
	sc.Traces = traces

	return sc, nil
}

func resolveFeed(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadDetectionFeed reads an optional detection feed. Unreadable or malformed
// feeds are logged and yield an empty list.
func LoadDetectionFeed(path string, logger *zap.Logger) []DetectionRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		loggerOrNop(logger).Warn("Detection feed unavailable", zap.String("path", path), zap.Error(err))
		return []DetectionRecord{}
	}
	return DetectionsOrEmpty(data, path, logger)
}

// LoadRadarFeed reads an optional radar feed; see LoadDetectionFeed.
func LoadRadarFeed(path string, logger *zap.Logger) []RadarTrace {
	data, err := os.ReadFile(path)
	if err != nil {
		loggerOrNop(logger).Warn("Radar feed unavailable; fusion will run visual-only", zap.String("path", path), zap.Error(err))
		return []RadarTrace{}
	}
	return TracesOrEmpty(data, path, logger)
}
