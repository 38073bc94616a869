package classify

import (
	"math"

	"threatfusion/internal/countermeasure"
	"threatfusion/internal/fusion"
	"threatfusion/internal/scoring"
)

// ThreatAssessment is the classification of one fused threat.
type ThreatAssessment struct {
	ThreatID                   string           `json:"threat_id"`
	ThreatType                 string           `json:"threat_type"`
	ThreatSubtype              string           `json:"threat_subtype,omitempty"`
	SizeClass                  string           `json:"size_class,omitempty"`
	ThreatLevel                Level            `json:"threat_level"`
	Confidence                 float64          `json:"confidence"`
	SwarmDetected              bool             `json:"swarm_detected"`
	SwarmConfidence            float64          `json:"swarm_confidence"`
	SwarmSizeEstimate          *SwarmSize       `json:"swarm_size_estimate,omitempty"`
	SwarmPattern               string           `json:"swarm_pattern,omitempty"`
	RadarCorrelation           bool             `json:"radar_correlation"`
	EstimatedRangeKM           *float64         `json:"estimated_range_km,omitempty"`
	EstimatedVelocityMPS       *float64         `json:"estimated_velocity_mps,omitempty"`
	Characteristics            *Profile         `json:"characteristics,omitempty"`
	Risk                       *scoring.Risk    `json:"risk,omitempty"`
	RecommendedCountermeasures []Recommendation `json:"recommended_countermeasures"`
}

// Recommends reports whether any recommendation uses the given kind.
func (a ThreatAssessment) Recommends(kind countermeasure.Kind) bool {
	for _, r := range a.RecommendedCountermeasures {
		if r.Command.Type == kind {
			return true
		}
	}
	return false
}

// Classifier turns fused threats into assessments. It holds only read-only
// tables, so one value may be shared between goroutines.
type Classifier struct {
	profiles Profiles
	risk     scoring.Lookuper
}

// New returns a classifier over the built-in characteristics. risk may be nil,
// in which case assessments carry no risk enrichment.
func New(risk scoring.Lookuper) *Classifier {
	return &Classifier{profiles: DefaultProfiles(), risk: risk}
}

// Classify is the package-level form of (*Classifier).Classify without enrichment.
func Classify(f fusion.FusedThreat) ThreatAssessment {
	return New(nil).Classify(f)
}

// Classify derives subtype, swarm likelihood, level and recommendations.
// Missing Doppler or velocity count as zero. Only drones and aircraft get a
// subtype; other objects fall through every rule with an empty size class.
func (c *Classifier) Classify(f fusion.FusedThreat) ThreatAssessment {
	var doppler, velocity float64
	a := ThreatAssessment{
		ThreatID:         f.ThreatID,
		ThreatType:       string(f.Detection.ObjectType),
		RadarCorrelation: f.RadarCorrelation,
		Confidence:       math.Min(1, round2(f.Detection.Confidence*1.1)),
	}
	if f.Trace != nil {
		doppler = f.Trace.Doppler()
		velocity = f.Trace.Velocity()
		rangeKM := f.Trace.RangeKM
		a.EstimatedRangeKM = &rangeKM
		if f.Trace.VelocityMPS != nil {
			v := *f.Trace.VelocityMPS
			a.EstimatedVelocityMPS = &v
		}
	}

	if f.Detection.ObjectType.IsUAV() {
		a.ThreatSubtype, a.SizeClass = classifySubtype(doppler, velocity)
		if prof, ok := c.profiles.lookup(a.ThreatSubtype); ok {
			a.Characteristics = &prof
		}
	}

	swarm := assessSwarm(a.SizeClass)
	a.SwarmDetected = swarm.Likely
	a.SwarmConfidence = swarm.Confidence
	size := swarm.Size
	a.SwarmSizeEstimate = &size
	a.SwarmPattern = swarm.Pattern

	fx := facts{
		doppler:          doppler,
		velocity:         velocity,
		sizeClass:        a.SizeClass,
		radarCorrelation: f.RadarCorrelation,
		swarm:            swarm,
	}
	a.ThreatLevel = threatLevel(fx)
	a.RecommendedCountermeasures = recommend(fx, f.ThreatID)

	if c.risk != nil {
		key := a.ThreatSubtype
		if key == "" {
			key = a.ThreatType
		}
		risk := c.risk.Lookup(key)
		a.Risk = &risk
	}
	return a
}

// ClassifyAll classifies each fused threat, preserving order.
func (c *Classifier) ClassifyAll(threats []fusion.FusedThreat) []ThreatAssessment {
	out := make([]ThreatAssessment, 0, len(threats))
	for _, f := range threats {
		out = append(out, c.Classify(f))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
