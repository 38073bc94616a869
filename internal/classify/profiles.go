package classify

// Profile is the reference data kept for one UAV subtype.
type Profile struct {
	Subtype          string   `json:"subtype" yaml:"subtype"`
	SizeClass        string   `json:"size_class" yaml:"size_class"`
	TypicalMassKG    string   `json:"typical_mass_kg" yaml:"typical_mass_kg"`
	TypicalPayloadKG string   `json:"typical_payload_kg" yaml:"typical_payload_kg"`
	TypicalRangeKM   string   `json:"typical_range_km" yaml:"typical_range_km"`
	RotorCounts      []int    `json:"rotor_counts" yaml:"rotor_counts"`
	ThreatRange      string   `json:"threat_range" yaml:"threat_range"`
	TypicalUse       string   `json:"typical_use" yaml:"typical_use"`
	Countermeasures  []string `json:"countermeasures" yaml:"countermeasures"`
}

func (p Profile) clone() Profile {
	out := p
	out.RotorCounts = append([]int(nil), p.RotorCounts...)
	out.Countermeasures = append([]string(nil), p.Countermeasures...)
	return out
}

const (
	SubtypeSmallMultirotor  = "small_multirotor"
	SubtypeMediumMultirotor = "medium_multirotor"
	SubtypeLargeMultirotor  = "large_multirotor"
	SubtypeFixedWing        = "fixed_wing"
)

// Profiles indexes characteristics by subtype.
type Profiles map[string]Profile

// DefaultProfiles returns the built-in characteristics database.
func DefaultProfiles() Profiles {
	return Profiles{
		SubtypeSmallMultirotor: {
			Subtype:          SubtypeSmallMultirotor,
			SizeClass:        "micro/mini",
			TypicalMassKG:    "0.25-2.5",
			TypicalPayloadKG: "0-0.5",
			TypicalRangeKM:   "0.5-5",
			RotorCounts:      []int{4, 6},
			ThreatRange:      "LOW-MEDIUM",
			TypicalUse:       "reconnaissance, harassment",
			Countermeasures:  []string{"directed_energy", "net_capture", "jamming"},
		},
		SubtypeMediumMultirotor: {
			Subtype:          SubtypeMediumMultirotor,
			SizeClass:        "small tactical",
			TypicalMassKG:    "2.5-25",
			TypicalPayloadKG: "0.5-5",
			TypicalRangeKM:   "5-15",
			RotorCounts:      []int{4, 6, 8},
			ThreatRange:      "MEDIUM-HIGH",
			TypicalUse:       "ISR, light payload delivery",
			Countermeasures:  []string{"directed_energy", "ciws", "jamming"},
		},
		SubtypeLargeMultirotor: {
			Subtype:          SubtypeLargeMultirotor,
			SizeClass:        "tactical/strategic",
			TypicalMassKG:    "25-150",
			TypicalPayloadKG: "5-40",
			TypicalRangeKM:   "15-50",
			RotorCounts:      []int{6, 8},
			ThreatRange:      "HIGH-CRITICAL",
			TypicalUse:       "heavy payload delivery, weapons",
			Countermeasures:  []string{"ciws", "sam", "directed_energy"},
		},
		SubtypeFixedWing: {
			Subtype:          SubtypeFixedWing,
			SizeClass:        "tactical UAV",
			TypicalMassKG:    "5-100",
			TypicalPayloadKG: "1-20",
			TypicalRangeKM:   "50-500",
			RotorCounts:      []int{0},
			ThreatRange:      "HIGH",
			TypicalUse:       "ISR, precision strike",
			Countermeasures:  []string{"sam", "ciws", "fighter_intercept"},
		},
	}
}

// lookup returns a copy of the subtype's profile, falling back to the medium
// multirotor entry for subtypes the database does not list.
func (p Profiles) lookup(subtype string) (Profile, bool) {
	if prof, ok := p[subtype]; ok {
		return prof.clone(), true
	}
	if prof, ok := p[SubtypeMediumMultirotor]; ok {
		return prof.clone(), true
	}
	return Profile{}, false
}
