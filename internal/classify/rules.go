package classify

import (
	"math"
	"sort"
	"strings"

	"threatfusion/internal/countermeasure"
)

// Level is the operator-facing severity of an assessment.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank orders levels from LOW (1) to CRITICAL (4). Unknown levels rank 0.
func (l Level) Rank() int {
	return levelRank[l]
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Rank() > 0
}

// facts are the derived values every rule table reads.
type facts struct {
	doppler          float64
	velocity         float64
	sizeClass        string
	radarCorrelation bool
	swarm            SwarmAssessment
}

type subtypeRule struct {
	subtype   string
	sizeClass string
	match     func(doppler, velocity float64) bool
}

// subtypeRules are evaluated in order; doppler is the magnitude.
var subtypeRules = []subtypeRule{
	{SubtypeMediumMultirotor, "tactical", func(d, v float64) bool { return d > 50 && v > 20 }},
	{SubtypeLargeMultirotor, "tactical/strategic", func(d, v float64) bool { return d > 50 }},
	{SubtypeSmallMultirotor, "mini", func(d, v float64) bool { return d > 20 }},
	{SubtypeFixedWing, "tactical", func(d, v float64) bool { return v > 30 }},
	{SubtypeMediumMultirotor, "tactical", func(d, v float64) bool { return true }},
}

func classifySubtype(doppler, velocity float64) (subtype, sizeClass string) {
	d := math.Abs(doppler)
	for _, r := range subtypeRules {
		if r.match(d, velocity) {
			return r.subtype, r.sizeClass
		}
	}
	return "", ""
}

// SwarmSize is an estimated unit count range.
type SwarmSize struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// SwarmAssessment is the swarm table row matched for a size class.
type SwarmAssessment struct {
	Likely     bool
	Confidence float64
	Size       SwarmSize
	Pattern    string
}

type swarmRule struct {
	substrings []string
	assessment SwarmAssessment
}

var swarmRules = []swarmRule{
	{[]string{"mini", "micro"}, SwarmAssessment{Likely: true, Confidence: 0.65, Size: SwarmSize{5, 15}, Pattern: "Coordinated reconnaissance or saturation attack"}},
	{[]string{"tactical"}, SwarmAssessment{Likely: false, Confidence: 0.3, Size: SwarmSize{1, 3}, Pattern: "Independent operation likely"}},
}

var soloAssessment = SwarmAssessment{Likely: false, Confidence: 0.1, Size: SwarmSize{1, 1}, Pattern: "Solo high-value target"}

func assessSwarm(sizeClass string) SwarmAssessment {
	for _, r := range swarmRules {
		for _, s := range r.substrings {
			if strings.Contains(sizeClass, s) {
				return r.assessment
			}
		}
	}
	return soloAssessment
}

type levelRule struct {
	level Level
	when  func(facts) bool
}

// levelRules are evaluated in order; the first match wins.
var levelRules = []levelRule{
	{LevelCritical, func(f facts) bool { return strings.Contains(f.sizeClass, "strategic") }},
	{LevelHigh, func(f facts) bool { return f.swarm.Likely && f.swarm.Confidence > 0.6 }},
	{LevelHigh, func(f facts) bool { return strings.Contains(f.sizeClass, "tactical") && f.radarCorrelation }},
	{LevelMedium, func(f facts) bool { return strings.Contains(f.sizeClass, "mini") && !f.swarm.Likely }},
}

func threatLevel(f facts) Level {
	for _, r := range levelRules {
		if r.when(f) {
			return r.level
		}
	}
	return LevelMedium
}

// Recommendation is one suggested countermeasure with its priority (1 is highest).
type Recommendation struct {
	Command   countermeasure.Command `json:"command"`
	Priority  int                    `json:"priority"`
	Rationale string                 `json:"rationale"`
}

type recommendationRule struct {
	name       string
	when       func(facts) bool
	contribute func(targetID string) []Recommendation
}

func directedEnergy(targetID string, powerKW float64) countermeasure.Command {
	return countermeasure.NewDirectedEnergy(targetID, countermeasure.DirectedEnergy{
		PowerKW:      powerKW,
		FrequencyGHz: 95,
		BeamWidthDeg: 15,
		DurationS:    3,
	})
}

// recommendationRules all fire when their predicate holds; the results are
// merged by fold.
var recommendationRules = []recommendationRule{
	{
		name: "swarm",
		when: func(f facts) bool { return f.swarm.Likely },
		contribute: func(id string) []Recommendation {
			return []Recommendation{
				{Command: directedEnergy(id, 50), Priority: 1, Rationale: "Area-effect directed energy is optimal against drone swarms"},
				{Command: countermeasure.NewElectronicJamming(id, countermeasure.ElectronicJamming{
					FrequencyMHz: 2400,
					PowerDBm:     40,
					JammingType:  "barrage",
					DurationS:    10,
				}), Priority: 2, Rationale: "Disrupt swarm coordination and C2 links"},
			}
		},
	},
	{
		name: "large",
		when: func(f facts) bool {
			return strings.Contains(f.sizeClass, "large") || strings.Contains(f.sizeClass, "strategic")
		},
		contribute: func(id string) []Recommendation {
			return []Recommendation{
				{Command: countermeasure.NewKineticDefense(id, countermeasure.KineticDefense{
					WeaponType:        "RAM",
					Rounds:            2,
					EngagementRangeKM: 3,
				}), Priority: 1, Rationale: "Large airframe requires kinetic neutralization"},
			}
		},
	},
	{
		name: "mini",
		when: func(f facts) bool { return strings.Contains(f.sizeClass, "mini") && !f.swarm.Likely },
		contribute: func(id string) []Recommendation {
			return []Recommendation{
				{Command: directedEnergy(id, 30), Priority: 1, Rationale: "Directed energy is effective against small drones with minimal collateral"},
			}
		},
	},
}

func defaultRecommendation(id string) Recommendation {
	return Recommendation{Command: directedEnergy(id, 40), Priority: 1, Rationale: "Default countermeasure for airborne threats"}
}

// recommend folds every firing rule into one list sorted by priority, keeping
// the best-priority entry per countermeasure kind. Rule order breaks ties.
func recommend(f facts, targetID string) []Recommendation {
	var all []Recommendation
	for _, r := range recommendationRules {
		if r.when(f) {
			all = append(all, r.contribute(targetID)...)
		}
	}
	if len(all) == 0 {
		return []Recommendation{defaultRecommendation(targetID)}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	seen := make(map[countermeasure.Kind]bool, len(all))
	out := all[:0]
	for _, rec := range all {
		if seen[rec.Command.Type] {
			continue
		}
		seen[rec.Command.Type] = true
		out = append(out, rec)
	}
	return out
}
