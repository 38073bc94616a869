package actuator

import (
	"fmt"
	"math"
	"strings"

	"threatfusion/internal/countermeasure"
)

// Assessment is the deterministic outcome a model predicts for one command.
type Assessment struct {
	Effectiveness  float64
	Status         Status
	Description    string
	ExecutionTimeS float64
}

// Model scores commands of a single kind. Implementations must be pure.
type Model interface {
	Kind() countermeasure.Kind
	Assess(cmd countermeasure.Command) (Assessment, error)
}

type tier struct {
	min  float64
	text string
}

func describe(tiers []tier, effectiveness float64) string {
	for _, t := range tiers {
		if effectiveness >= t.min {
			return t.text
		}
	}
	return tiers[len(tiers)-1].text
}

func finish(raw, successAbove float64, tiers []tier, execTime float64) Assessment {
	eff := round1(clamp(raw, 0, 100))
	status := StatusPartial
	if eff > successAbove {
		status = StatusSuccess
	}
	return Assessment{
		Effectiveness:  eff,
		Status:         status,
		Description:    describe(tiers, eff),
		ExecutionTimeS: execTime,
	}
}

type directedEnergyModel struct{}

var directedEnergyTiers = []tier{
	{90, "Target electronics destroyed. Drone neutralized immediately."},
	{70, "Target electronics damaged. Drone lost control and crashed."},
	{50, "Target partially affected. Drone experiencing control issues."},
	{math.Inf(-1), "Minimal effect on target. Target remains operational."},
}

func (directedEnergyModel) Kind() countermeasure.Kind { return countermeasure.KindDirectedEnergy }

func (directedEnergyModel) Assess(cmd countermeasure.Command) (Assessment, error) {
	p := cmd.DirectedEnergy
	if p == nil {
		return Assessment{}, fmt.Errorf("directed_energy payload is missing")
	}
	power := math.Min(100, (p.PowerKW/50)*70)
	freq := 80.0
	if p.FrequencyGHz >= 90 && p.FrequencyGHz <= 100 {
		freq = 100
	}
	beam := 85.0
	if p.BeamWidthDeg <= 15 {
		beam = 100
	}
	duration := math.Min(100, (p.DurationS/3)*100)

	raw := 0.4*power + 0.2*freq + 0.2*beam + 0.2*duration
	return finish(raw, 70, directedEnergyTiers, p.DurationS+0.5), nil
}

type kineticModel struct{}

var weaponBase = map[string]float64{
	"ram":     95,
	"searam":  90,
	"phalanx": 85,
}

func (kineticModel) Kind() countermeasure.Kind { return countermeasure.KindKineticDefense }

func (kineticModel) Assess(cmd countermeasure.Command) (Assessment, error) {
	p := cmd.KineticDefense
	if p == nil {
		return Assessment{}, fmt.Errorf("kinetic_defense payload is missing")
	}
	base, ok := weaponBase[strings.ToLower(strings.TrimSpace(p.WeaponType))]
	if !ok {
		base = 80
	}
	rangeFactor := 85.0
	if p.EngagementRangeKM < 3 {
		rangeFactor = 100
	}
	rounds := math.Min(100, 70+float64(p.Rounds)*10)

	raw := 0.5*base + 0.3*rangeFactor + 0.2*rounds
	w := p.WeaponType
	tiers := []tier{
		{90, w + " direct hit. Target destroyed."},
		{70, w + " engaged successfully. Target critically damaged."},
		{50, w + " near miss. Target damaged but operational."},
		{math.Inf(-1), w + " engagement unsuccessful. Target evaded or survived."},
	}
	return finish(raw, 80, tiers, 2+0.5*float64(p.Rounds)), nil
}

type jammingModel struct{}

// droneLinkBandsMHz are the common drone control-link centre frequencies.
var droneLinkBandsMHz = []float64{900, 2400, 5800}

var jammingTypeFactor = map[string]float64{
	"barrage": 90,
	"spot":    95,
	"sweep":   85,
}

var jammingTiers = []tier{
	{80, "C2 link completely jammed. Drone lost control."},
	{60, "C2 link severely degraded. Drone operating erratically."},
	{40, "C2 link partially jammed. Drone still functional."},
	{math.Inf(-1), "Minimal jamming effect. Drone maintains control."},
}

func (jammingModel) Kind() countermeasure.Kind { return countermeasure.KindElectronicJamming }

func (jammingModel) Assess(cmd countermeasure.Command) (Assessment, error) {
	p := cmd.ElectronicJamming
	if p == nil {
		return Assessment{}, fmt.Errorf("electronic_jamming payload is missing")
	}
	freq := 70.0
	for _, c := range droneLinkBandsMHz {
		if math.Abs(p.FrequencyMHz-c) <= 100 {
			freq = 100
			break
		}
	}
	power := math.Min(100, (p.PowerDBm/40)*100)
	typ, ok := jammingTypeFactor[strings.ToLower(strings.TrimSpace(p.JammingType))]
	if !ok {
		typ = 80
	}

	raw := 0.4*freq + 0.3*power + 0.3*typ
	return finish(raw, 60, jammingTiers, p.DurationS), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
