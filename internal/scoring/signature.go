package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strength buckets the average emitted power of the active systems.
type Strength string

const (
	StrengthMinimal Strength = "minimal"
	StrengthLow     Strength = "low"
	StrengthMedium  Strength = "medium"
	StrengthHigh    Strength = "high"
	StrengthMaximum Strength = "maximum"
)

const (
	defaultSystemPowerDBm = 45.0
	maxDetectionRangeKM   = 250.0
)

var strengthStatus = map[Strength]string{
	StrengthMinimal: "LOW DETECTABILITY",
	StrengthLow:     "REDUCED DETECTABILITY",
	StrengthMedium:  "MODERATE DETECTABILITY",
	StrengthHigh:    "HIGH DETECTABILITY",
	StrengthMaximum: "CRITICAL - HIGHLY DETECTABLE",
}

// SystemProfile is the baseline emission of one own-ship system type.
type SystemProfile struct {
	Key          string  `json:"key" yaml:"key"`
	PowerDBm     float64 `json:"power_dbm" yaml:"power_dbm"`
	FrequencyMHz float64 `json:"frequency_mhz,omitempty" yaml:"frequency_mhz,omitempty"`
}

// SignatureModel holds the replaceable baseline table for own-signature estimates.
type SignatureModel struct {
	Profiles []SystemProfile
}

// DefaultSignatureModel returns the compiled-in baselines.
func DefaultSignatureModel() *SignatureModel {
	return &SignatureModel{Profiles: []SystemProfile{
		{Key: "radar", PowerDBm: 60, FrequencyMHz: 3000},
		{Key: "navigation_radar", PowerDBm: 50, FrequencyMHz: 9400},
		{Key: "fire_control_radar", PowerDBm: 65, FrequencyMHz: 10000},
		{Key: "communications", PowerDBm: 45, FrequencyMHz: 150},
		{Key: "datalink", PowerDBm: 48, FrequencyMHz: 1200},
		{Key: "satellite_comms", PowerDBm: 55, FrequencyMHz: 7500},
		{Key: "iff", PowerDBm: 40, FrequencyMHz: 1030},
		{Key: "tacan", PowerDBm: 43, FrequencyMHz: 1025},
		{Key: "ais", PowerDBm: 35, FrequencyMHz: 162},
	}}
}

// LoadSignatureModel reads a baselines file of the form `systems: [{key, power_dbm, frequency_mhz}]`.
func LoadSignatureModel(path string) (*SignatureModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baselines: %w", err)
	}
	var doc struct {
		Systems []SystemProfile `yaml:"systems"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse baselines: %w", err)
	}
	if len(doc.Systems) == 0 {
		return nil, fmt.Errorf("parse baselines: systems is empty")
	}
	for i := range doc.Systems {
		doc.Systems[i].Key = NormalizeEmitterType(doc.Systems[i].Key)
		if doc.Systems[i].Key == "" {
			return nil, fmt.Errorf("parse baselines: systems[%d] key is required", i)
		}
	}
	return &SignatureModel{Profiles: doc.Systems}, nil
}

// SystemEmission is the power attributed to one active system.
type SystemEmission struct {
	System     string  `json:"system"`
	MatchedKey string  `json:"matched_key,omitempty"`
	PowerDBm   float64 `json:"power_dbm"`
	Explicit   bool    `json:"explicit"`
}

// Signature is the estimated electromagnetic footprint of the own platform.
type Signature struct {
	ActiveSystems         []SystemEmission `json:"active_systems"`
	AveragePowerDBm       float64          `json:"average_power_dbm"`
	Strength              Strength         `json:"strength"`
	DetectionRangeKM      float64          `json:"detection_range_km"`
	PrimaryFrequenciesMHz []float64        `json:"primary_frequencies_mhz"`
	Status                string           `json:"status"`
	EMCON                 bool             `json:"emcon"`
	Advisory              []string         `json:"advisory"`
}

// profile finds a baseline by exact key, then by substring in either direction.
func (m *SignatureModel) profile(system string) (SystemProfile, bool) {
	norm := NormalizeEmitterType(system)
	if norm == "" {
		return SystemProfile{}, false
	}
	for _, p := range m.Profiles {
		if p.Key == norm {
			return p, true
		}
	}
	for _, p := range m.Profiles {
		if strings.Contains(norm, p.Key) || strings.Contains(p.Key, norm) {
			return p, true
		}
	}
	return SystemProfile{}, false
}

// Estimate computes the signature of the active systems. Explicit powers are
// used only when one is supplied per system; otherwise baselines apply.
func (m *SignatureModel) Estimate(systems []string, powersDBm []float64) Signature {
	if len(systems) == 0 {
		return Signature{
			ActiveSystems:         []SystemEmission{},
			Strength:              StrengthMinimal,
			PrimaryFrequenciesMHz: []float64{},
			Status:                "EMISSION CONTROL MODE (EMCON)",
			EMCON:                 true,
			Advisory: []string{
				"All electromagnetic emissions secured",
				"Detectability limited to ambient noise level (<5 km)",
			},
		}
	}

	explicit := len(powersDBm) == len(systems)
	sig := Signature{ActiveSystems: make([]SystemEmission, 0, len(systems))}
	total := 0.0
	seenFreq := map[float64]bool{}
	for i, system := range systems {
		em := SystemEmission{System: system, PowerDBm: defaultSystemPowerDBm}
		p, ok := m.profile(system)
		if ok {
			em.MatchedKey = p.Key
			em.PowerDBm = p.PowerDBm
			if p.FrequencyMHz > 0 && !seenFreq[p.FrequencyMHz] {
				seenFreq[p.FrequencyMHz] = true
				sig.PrimaryFrequenciesMHz = append(sig.PrimaryFrequenciesMHz, p.FrequencyMHz)
			}
		}
		if explicit {
			em.PowerDBm = powersDBm[i]
			em.Explicit = true
		}
		total += em.PowerDBm
		sig.ActiveSystems = append(sig.ActiveSystems, em)
	}
	sort.Float64s(sig.PrimaryFrequenciesMHz)
	if sig.PrimaryFrequenciesMHz == nil {
		sig.PrimaryFrequenciesMHz = []float64{}
	}

	n := float64(len(systems))
	sig.AveragePowerDBm = total / n
	sig.Strength = StrengthFor(sig.AveragePowerDBm)
	sig.DetectionRangeKM = DetectionRangeKM(sig.AveragePowerDBm, len(systems))
	sig.Status = strengthStatus[sig.Strength]
	sig.Advisory = advisory(sig)
	return sig
}

// StrengthFor buckets an average power in dBm.
func StrengthFor(avgDBm float64) Strength {
	switch {
	case avgDBm < 40:
		return StrengthMinimal
	case avgDBm < 50:
		return StrengthLow
	case avgDBm < 58:
		return StrengthMedium
	case avgDBm < 65:
		return StrengthHigh
	default:
		return StrengthMaximum
	}
}

// DetectionRangeKM is min(250, 10^(avg/40+1) * n^0.3). It is a heuristic,
// exponential in power and sub-linear in emitter count.
func DetectionRangeKM(avgDBm float64, systems int) float64 {
	if systems <= 0 {
		return 0
	}
	r := math.Pow(10, avgDBm/40+1) * math.Pow(float64(systems), 0.3)
	return math.Min(maxDetectionRangeKM, r)
}

func advisory(sig Signature) []string {
	switch sig.Strength {
	case StrengthHigh, StrengthMaximum:
		return []string{
			"Reduce non-essential emissions",
			"Consider emission control (EMCON) procedures",
			fmt.Sprintf("Hostile sensors can detect at ~%.0f km", sig.DetectionRangeKM),
		}
	case StrengthMedium:
		return []string{
			"Detectable by advanced sensors",
			"Consider situational EMCON if the threat increases",
		}
	default:
		return []string{
			"Reduced detectability to hostile sensors",
			"Maintain current emission profile if the tactical situation allows",
		}
	}
}
