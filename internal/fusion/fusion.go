package fusion

import (
	"fmt"
	"math"

	"threatfusion/internal/sensors"
)

const (
	// DefaultThresholdM is the correlation gate used when none is configured.
	DefaultThresholdM = 100.0

	MethodSpatialDoppler = "spatial_proximity_doppler"
	MethodVisualOnly     = "visual_only"

	SignatureStrongRotational = "strong_rotational"

	radarMatchBonus   = 0.2
	dopplerBonus      = 0.15
	dopplerBonusMinHz = 10.0
	rotationalMinHz   = 20.0
)

// RotorEstimate is a bucketed rotor count inferred from Doppler magnitude.
type RotorEstimate struct {
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Label string `json:"label"`
}

// FusedThreat is a detection joined with at most one radar trace.
type FusedThreat struct {
	ThreatID            string                  `json:"threat_id"`
	Detection           sensors.DetectionRecord `json:"detection"`
	Trace               *sensors.RadarTrace     `json:"radar_trace,omitempty"`
	RadarCorrelation    bool                    `json:"radar_correlation"`
	FusionConfidence    float64                 `json:"fusion_confidence"`
	DopplerSignature    string                  `json:"doppler_signature,omitempty"`
	EstimatedRotorCount *RotorEstimate          `json:"estimated_rotor_count,omitempty"`
	FusionMethod        string                  `json:"fusion_method"`
}

// InputError is returned for inputs fusion refuses to correlate.
type InputError struct {
	Field   string
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fusion input %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("fusion input %s: %s", e.Field, e.Message)
}

func (e *InputError) Unwrap() error { return e.Err }

// rotorBuckets is ordered from the highest Doppler floor down.
var rotorBuckets = []struct {
	above float64
	est   RotorEstimate
}{
	{50, RotorEstimate{Min: 6, Max: 8, Label: "hexacopter/octocopter"}},
	{30, RotorEstimate{Min: 4, Max: 6, Label: "quadcopter/hexacopter"}},
	{math.Inf(-1), RotorEstimate{Min: 2, Max: 4, Label: "small multirotor"}},
}

// Correlate joins detections with traces in one greedy pass.
//
// Detections are visited in input order. Each one claims the unclaimed trace
// whose |range_km*1000 - thresholdM| is smallest and below thresholdM; the
// earliest trace wins ties. A claimed trace is never offered again within the
// call. Bearing is not consulted.
//
// With no traces every detection is returned visual-only. Invalid input
// yields an *InputError and no results.
func Correlate(detections []sensors.DetectionRecord, traces []sensors.RadarTrace, thresholdM float64) ([]FusedThreat, error) {
	if math.IsNaN(thresholdM) || math.IsInf(thresholdM, 0) || thresholdM <= 0 {
		return nil, &InputError{Field: "threshold_m", Message: fmt.Sprintf("must be a positive finite distance, got %v", thresholdM)}
	}
	for i, d := range detections {
		if err := d.Validate(fmt.Sprintf("detections[%d]", i)); err != nil {
			return nil, &InputError{Field: "detections", Message: "invalid detection", Err: err}
		}
	}
	for i, t := range traces {
		if err := t.Validate(fmt.Sprintf("traces[%d]", i)); err != nil {
			return nil, &InputError{Field: "traces", Message: "invalid trace", Err: err}
		}
	}

	out := make([]FusedThreat, 0, len(detections))
	if len(traces) == 0 {
		for i, d := range detections {
			out = append(out, visualOnly(i, d))
		}
		return out, nil
	}

	arena := newTraceArena(traces)
	for i, d := range detections {
		idx, ok := arena.nearest(thresholdM)
		if !ok {
			out = append(out, visualOnly(i, d))
			continue
		}
		arena.claim(idx)
		out = append(out, fuse(i, d, arena.traces[idx]))
	}
	return out, nil
}

// ThreatID names the fused record built from the i-th detection.
func ThreatID(i int) string {
	return fmt.Sprintf("THREAT-%03d", i+1)
}

func visualOnly(i int, d sensors.DetectionRecord) FusedThreat {
	return FusedThreat{
		ThreatID:         ThreatID(i),
		Detection:        d,
		FusionConfidence: d.Confidence,
		FusionMethod:     MethodVisualOnly,
	}
}

func fuse(i int, d sensors.DetectionRecord, t sensors.RadarTrace) FusedThreat {
	trace := t.Clone()
	doppler := math.Abs(trace.Doppler())

	conf := d.Confidence + radarMatchBonus
	if doppler > dopplerBonusMinHz {
		conf += dopplerBonus
	}

	f := FusedThreat{
		ThreatID:         ThreatID(i),
		Detection:        d,
		Trace:            &trace,
		RadarCorrelation: true,
		FusionConfidence: round3(math.Min(1, conf)),
		FusionMethod:     MethodSpatialDoppler,
	}

	if trace.Band == sensors.BandKu && doppler > rotationalMinHz {
		f.DopplerSignature = SignatureStrongRotational
		for _, b := range rotorBuckets {
			if doppler > b.above {
				est := b.est
				f.EstimatedRotorCount = &est
				break
			}
		}
	}
	return f
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
