// Package susceptibility scores the own platform against detected hostile
// emitters and proposes an emission control posture for communications.
package susceptibility

import (
	"threatfusion/internal/scoring"
)

// Request describes the electromagnetic situation to assess.
type Request struct {
	// Emitters are hostile emitter types reported by ESM.
	Emitters []string `json:"emitters" yaml:"emitters"`
	// OwnSystems are the platform's currently radiating systems.
	OwnSystems   []string  `json:"own_systems" yaml:"own_systems"`
	OwnPowersDBm []float64 `json:"own_powers_dbm,omitempty" yaml:"own_powers_dbm,omitempty"`
	// PriorityChannels overrides the default channel set for the threat category.
	PriorityChannels []string `json:"priority_channels,omitempty" yaml:"priority_channels,omitempty"`
}

type Assessment struct {
	Risks              []scoring.Risk    `json:"risks"`
	OverallCategory    scoring.Category  `json:"overall_category"`
	MaxThreatScore     float64           `json:"max_threat_score"`
	Signature          scoring.Signature `json:"signature"`
	StealthRecommended bool              `json:"stealth_recommended"`
	Comms              CommsPlan         `json:"comms"`
}

type Assessor struct {
	risk  scoring.Lookuper
	model *scoring.SignatureModel
}

// NewAssessor falls back to the built-in table and baselines for nil arguments.
func NewAssessor(risk scoring.Lookuper, model *scoring.SignatureModel) *Assessor {
	if risk == nil {
		risk = scoring.DefaultTable()
	}
	if model == nil {
		model = scoring.DefaultSignatureModel()
	}
	return &Assessor{risk: risk, model: model}
}

// Assess looks up every emitter, takes the worst category as the overall
// threat, estimates the own signature and derives the comms posture.
// Stealth is recommended for high or critical threats, or when the own
// signature is highly detectable.
func (a *Assessor) Assess(req Request) Assessment {
	out := Assessment{
		Risks:           make([]scoring.Risk, 0, len(req.Emitters)),
		OverallCategory: scoring.CategoryLow,
	}
	for _, e := range req.Emitters {
		r := a.risk.Lookup(e)
		out.Risks = append(out.Risks, r)
		if r.Category.Rank() > out.OverallCategory.Rank() {
			out.OverallCategory = r.Category
		}
		if r.ThreatScore > out.MaxThreatScore {
			out.MaxThreatScore = r.ThreatScore
		}
	}

	out.Signature = a.model.Estimate(req.OwnSystems, req.OwnPowersDBm)
	loud := out.Signature.Strength == scoring.StrengthHigh || out.Signature.Strength == scoring.StrengthMaximum
	out.StealthRecommended = out.OverallCategory.Rank() >= scoring.CategoryHigh.Rank() || (loud && len(req.Emitters) > 0)

	if out.StealthRecommended || out.OverallCategory.Rank() >= scoring.CategoryMedium.Rank() {
		out.Comms = PlanComms(out.OverallCategory, req.PriorityChannels)
	} else {
		out.Comms = NormalComms()
	}
	return out
}
