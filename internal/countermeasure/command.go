package countermeasure

import (
	"fmt"
	"strings"
)

// Kind tags which actuator a Command addresses.
type Kind string

const (
	KindDirectedEnergy    Kind = "directed_energy"
	KindKineticDefense    Kind = "kinetic_defense"
	KindElectronicJamming Kind = "electronic_jamming"
)

// Kinds lists the actuator kinds the simulator ships models for.
func Kinds() []Kind {
	return []Kind{KindDirectedEnergy, KindKineticDefense, KindElectronicJamming}
}

type DirectedEnergy struct {
	PowerKW      float64 `json:"power_kw" yaml:"power_kw"`
	FrequencyGHz float64 `json:"frequency_ghz" yaml:"frequency_ghz"`
	BeamWidthDeg float64 `json:"beam_width_deg" yaml:"beam_width_deg"`
	DurationS    float64 `json:"duration_s" yaml:"duration_s"`
}

type KineticDefense struct {
	WeaponType        string  `json:"weapon_type" yaml:"weapon_type"`
	Rounds            int     `json:"rounds" yaml:"rounds"`
	EngagementRangeKM float64 `json:"engagement_range_km" yaml:"engagement_range_km"`
}

type ElectronicJamming struct {
	FrequencyMHz float64 `json:"frequency_mhz" yaml:"frequency_mhz"`
	PowerDBm     float64 `json:"power_dbm" yaml:"power_dbm"`
	JammingType  string  `json:"jamming_type" yaml:"jamming_type"`
	DurationS    float64 `json:"duration_s" yaml:"duration_s"`
}

// Command is a tagged variant: Type selects which payload is populated.
// Commands decoded from files may carry a Type with no registered actuator;
// those are kept so execution can report them instead of dropping them.
type Command struct {
	Type              Kind               `json:"type" yaml:"type"`
	TargetID          string             `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	DirectedEnergy    *DirectedEnergy    `json:"directed_energy,omitempty" yaml:"directed_energy,omitempty"`
	KineticDefense    *KineticDefense    `json:"kinetic_defense,omitempty" yaml:"kinetic_defense,omitempty"`
	ElectronicJamming *ElectronicJamming `json:"electronic_jamming,omitempty" yaml:"electronic_jamming,omitempty"`
}

func NewDirectedEnergy(targetID string, p DirectedEnergy) Command {
	return Command{Type: KindDirectedEnergy, TargetID: targetID, DirectedEnergy: &p}
}

func NewKineticDefense(targetID string, p KineticDefense) Command {
	return Command{Type: KindKineticDefense, TargetID: targetID, KineticDefense: &p}
}

func NewElectronicJamming(targetID string, p ElectronicJamming) Command {
	return Command{Type: KindElectronicJamming, TargetID: targetID, ElectronicJamming: &p}
}

// Clone returns a copy that shares no payload pointers with c.
func (c Command) Clone() Command {
	out := Command{Type: c.Type, TargetID: c.TargetID}
	if c.DirectedEnergy != nil {
		p := *c.DirectedEnergy
		out.DirectedEnergy = &p
	}
	if c.KineticDefense != nil {
		p := *c.KineticDefense
		out.KineticDefense = &p
	}
	if c.ElectronicJamming != nil {
		p := *c.ElectronicJamming
		out.ElectronicJamming = &p
	}
	return out
}

// Validate checks that a known kind carries exactly its own payload.
// Unknown kinds are not an error here.
func (c Command) Validate() error {
	payloads := 0
	for _, set := range []bool{c.DirectedEnergy != nil, c.KineticDefense != nil, c.ElectronicJamming != nil} {
		if set {
			payloads++
		}
	}
	switch c.Type {
	case KindDirectedEnergy:
		if c.DirectedEnergy == nil || payloads != 1 {
			return fmt.Errorf("%s command must carry only a directed_energy payload", c.Type)
		}
		p := c.DirectedEnergy
		if p.PowerKW < 0 || p.FrequencyGHz < 0 || p.BeamWidthDeg < 0 || p.DurationS < 0 {
			return fmt.Errorf("%s parameters must be non-negative", c.Type)
		}
	case KindKineticDefense:
		if c.KineticDefense == nil || payloads != 1 {
			return fmt.Errorf("%s command must carry only a kinetic_defense payload", c.Type)
		}
		p := c.KineticDefense
		if strings.TrimSpace(p.WeaponType) == "" {
			return fmt.Errorf("%s weapon_type is required", c.Type)
		}
		if p.Rounds < 0 || p.EngagementRangeKM < 0 {
			return fmt.Errorf("%s parameters must be non-negative", c.Type)
		}
	case KindElectronicJamming:
		if c.ElectronicJamming == nil || payloads != 1 {
			return fmt.Errorf("%s command must carry only an electronic_jamming payload", c.Type)
		}
		p := c.ElectronicJamming
		if p.FrequencyMHz < 0 || p.DurationS < 0 {
			return fmt.Errorf("%s parameters must be non-negative", c.Type)
		}
	case "":
		return fmt.Errorf("command type is required")
	}
	return nil
}

// String renders a one-line operator summary.
func (c Command) String() string {
	target := ""
	if c.TargetID != "" {
		target = " -> " + c.TargetID
	}
	switch {
	case c.Type == KindDirectedEnergy && c.DirectedEnergy != nil:
		p := c.DirectedEnergy
		return fmt.Sprintf("directed energy %gkW @ %gGHz, beam %g°, %gs%s", p.PowerKW, p.FrequencyGHz, p.BeamWidthDeg, p.DurationS, target)
	case c.Type == KindKineticDefense && c.KineticDefense != nil:
		p := c.KineticDefense
		return fmt.Sprintf("kinetic %s x%d at %gkm%s", p.WeaponType, p.Rounds, p.EngagementRangeKM, target)
	case c.Type == KindElectronicJamming && c.ElectronicJamming != nil:
		p := c.ElectronicJamming
		return fmt.Sprintf("%s jamming %gMHz @ %gdBm, %gs%s", p.JammingType, p.FrequencyMHz, p.PowerDBm, p.DurationS, target)
	default:
		return fmt.Sprintf("%s%s", c.Type, target)
	}
}
