package susceptibility

import (
	"threatfusion/internal/scoring"
)

// Channel is a communications circuit and its band in MHz.
type Channel struct {
	Name    string  `json:"name"`
	LowMHz  float64 `json:"low_mhz"`
	HighMHz float64 `json:"high_mhz"`
}

// Channels is the platform's standard channel catalogue.
var Channels = []Channel{
	{Name: "VHF_Primary", LowMHz: 30, HighMHz: 88},
	{Name: "UHF_Tactical", LowMHz: 225, HighMHz: 400},
	{Name: "HF_LongRange", LowMHz: 2, HighMHz: 30},
	{Name: "SATCOM_Primary", LowMHz: 7500, HighMHz: 8500},
	{Name: "Datalink_Command", LowMHz: 960, HighMHz: 1215},
	{Name: "ESM_Coordination", LowMHz: 225, HighMHz: 400},
}

type CommsPlan struct {
	StealthMode      bool             `json:"stealth_mode"`
	ThreatCategory   scoring.Category `json:"threat_category"`
	Channels         []Channel        `json:"channels"`
	FrequencyHopping bool             `json:"frequency_hopping"`
	PowerReduced     bool             `json:"power_reduced"`
	Encryption       string           `json:"encryption"`
	Implications     []string         `json:"implications"`
}

type posture struct {
	channels     []string
	hopping      bool
	reduced      bool
	encryption   string
	implications []string
}

var postures = map[scoring.Category]posture{
	scoring.CategoryCritical: {
		channels:   []string{"SATCOM_Primary", "Datalink_Command"},
		hopping:    true,
		reduced:    true,
		encryption: "maximum",
		implications: []string{
			"Minimal emissions authorized",
			"Only essential command and control channels active",
			"All non-priority communications secured",
		},
	},
	scoring.CategoryHigh: {
		channels:   []string{"UHF_Tactical", "SATCOM_Primary", "Datalink_Command"},
		hopping:    true,
		reduced:    true,
		encryption: "enhanced",
		implications: []string{
			"Non-essential channels secured",
			"Reduced power to minimize detection",
		},
	},
	scoring.CategoryMedium: {
		channels:   []string{"VHF_Primary", "UHF_Tactical", "SATCOM_Primary", "Datalink_Command"},
		hopping:    true,
		encryption: "enhanced",
		implications: []string{
			"Primary channels remain operational",
			"Normal power levels maintained",
		},
	},
	scoring.CategoryLow: {
		encryption: "basic",
		implications: []string{
			"All standard channels operational",
			"Basic stealth measures applied",
		},
	},
}

// PlanComms returns the stealth posture for a threat category. priority, when
// non-empty, replaces the category's channel set; names not in the catalogue
// are dropped. Unknown categories are treated as low.
func PlanComms(category scoring.Category, priority []string) CommsPlan {
	p, ok := postures[category]
	if !ok {
		category = scoring.CategoryLow
		p = postures[category]
	}
	names := p.channels
	if len(priority) > 0 {
		names = priority
	}
	plan := CommsPlan{
		StealthMode:      true,
		ThreatCategory:   category,
		Channels:         selectChannels(names),
		FrequencyHopping: p.hopping,
		PowerReduced:     p.reduced,
		Encryption:       p.encryption,
		Implications:     append([]string(nil), p.implications...),
	}
	return plan
}

// NormalComms is the unrestricted posture used when no stealth is needed.
func NormalComms() CommsPlan {
	return CommsPlan{
		ThreatCategory: scoring.CategoryLow,
		Channels:       append([]Channel(nil), Channels...),
		Encryption:     "basic",
		Implications:   []string{"Standard emissions profile maintained"},
	}
}

// selectChannels resolves names against the catalogue, in catalogue order.
// A nil or empty list selects every channel.
func selectChannels(names []string) []Channel {
	if len(names) == 0 {
		return append([]Channel(nil), Channels...)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := []Channel{}
	for _, c := range Channels {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
