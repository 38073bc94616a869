package detectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"threatfusion/internal/sensors"
)

// sidecarSuffixes are tried in order next to each image.
var sidecarSuffixes = []string{".detections.json", ".detections.yaml", ".detections.yml"}

// SidecarDetector is a deterministic, offline detector. It reads detections
// recorded next to the image and otherwise guesses from the file name.
type SidecarDetector struct{}

func (d *SidecarDetector) Name() string {
	return "sidecar"
}

func (d *SidecarDetector) Detect(ctx context.Context, image sensors.ImageRef) ([]sensors.DetectionRecord, error) {
	if image.Path == "" {
		return nil, errors.New("image path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(image.Path); err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	for _, suffix := range sidecarSuffixes {
		data, err := os.ReadFile(image.Path + suffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read sidecar: %w", err)
		}
		return sensors.ParseDetections(data, image.Path)
	}
	return []sensors.DetectionRecord{guessFromName(image.Path)}, nil
}

type nameGuess struct {
	keywords   []string
	objectType sensors.ObjectType
	confidence float64
	box        sensors.BoundingBox
	class      string
}

var nameGuesses = []nameGuess{
	{[]string{"drone", "uav"}, sensors.ObjectDrone, 0.87, sensors.BoundingBox{X: 320, Y: 240, Width: 150, Height: 120}, "drone_mock"},
	{[]string{"ship", "vessel"}, sensors.ObjectVessel, 0.92, sensors.BoundingBox{X: 400, Y: 300, Width: 250, Height: 180}, "vessel_mock"},
	{[]string{"missile"}, sensors.ObjectMissile, 0.78, sensors.BoundingBox{X: 350, Y: 200, Width: 80, Height: 40}, "missile_mock"},
}

// guessFromName produces a single detection from keywords in the file stem.
func guessFromName(path string) sensors.DetectionRecord {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	rec := sensors.DetectionRecord{
		SourceImageID: base,
		ObjectType:    sensors.ObjectUnknown,
		ClassName:     "unknown_object",
		Confidence:    0.45,
		BoundingBox:   sensors.BoundingBox{X: 300, Y: 250, Width: 100, Height: 100},
	}
	for _, g := range nameGuesses {
		for _, kw := range g.keywords {
			if strings.Contains(stem, kw) {
				rec.ObjectType = g.objectType
				rec.ClassName = g.class
				rec.Confidence = g.confidence
				rec.BoundingBox = g.box
				return rec
			}
		}
	}
	return rec
}
