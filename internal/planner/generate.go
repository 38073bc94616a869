package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"threatfusion/internal/classify"
	"threatfusion/internal/countermeasure"
	"threatfusion/internal/sensors"
)

// Prediction is the modelled outcome of one command.
type Prediction struct {
	Effectiveness  float64
	ExecutionTimeS float64
}

// Estimator predicts command outcomes. Plans are scored with the same models
// that execute them.
type Estimator interface {
	Estimate(cmd countermeasure.Command) (Prediction, error)
}

// PlanningFailure is returned when fewer than two plans can be offered.
type PlanningFailure struct {
	IncidentID string
	Viable     int
	Reason     string
	Err        error
}

func (e *PlanningFailure) Error() string {
	msg := fmt.Sprintf("planning failed for incident %s: %s (%d viable plan(s))", e.IncidentID, e.Reason, e.Viable)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlanningFailure) Unwrap() error { return e.Err }

type GenerateOptions struct {
	// MinLevel is the lowest threat level that is planned against. Defaults to MEDIUM.
	MinLevel classify.Level
	Now      func() time.Time
}

type Generator struct {
	estimator Estimator
	minLevel  classify.Level
	now       func() time.Time
}

func NewGenerator(est Estimator, opts GenerateOptions) (*Generator, error) {
	if est == nil {
		return nil, errors.New("planner: estimator is required")
	}
	if opts.MinLevel == "" {
		opts.MinLevel = classify.LevelMedium
	}
	if opts.MinLevel.Rank() == 0 {
		return nil, fmt.Errorf("planner: unknown minimum threat level %q", opts.MinLevel)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{estimator: est, minLevel: opts.MinLevel, now: opts.Now}, nil
}

const (
	spotJamPowerDBm  = 35.0
	spotJamDurationS = 5.0
	defaultLinkMHz   = 2400.0
)

// Generate builds the candidate plans for the actionable assessments, in
// archetype order with ids PLAN-001.. and a rank by predicted effectiveness.
// Fewer than two viable plans yield a *PlanningFailure.
func (g *Generator) Generate(incidentID string, assessments []classify.ThreatAssessment) (Batch, error) {
	actionable := make([]classify.ThreatAssessment, 0, len(assessments))
	for _, a := range assessments {
		if a.ThreatLevel.Rank() >= g.minLevel.Rank() {
			actionable = append(actionable, a)
		}
	}
	if len(actionable) == 0 {
		return Batch{}, &PlanningFailure{
			IncidentID: incidentID,
			Reason:     fmt.Sprintf("no assessment at or above %s", g.minLevel),
		}
	}

	var plans []Plan
	aggressive := aggressiveCommands(actionable)
	plans = append(plans, Plan{
		PlanName: "Direct Neutralization",
		Approach: ApproachAggressive,
		Commands: aggressive,
		Pros: []string{
			"Highest single-shot kill probability per target",
			fmt.Sprintf("Engages all %d actionable target(s) directly", len(actionable)),
		},
		Cons: []string{
			"Destructive: debris and collateral risk near friendly assets",
			"Consumes interceptor rounds or directed energy capacity",
		},
	})

	jamming, rfTargets := jammingCommands(actionable)
	if len(jamming) > 0 {
		plans = append(plans, Plan{
			PlanName: "Electronic Disruption",
			Approach: ApproachNonKinetic,
			Commands: jamming,
			Pros: []string{
				"Non-destructive with no debris",
				"Cheap to sustain and reversible",
				fmt.Sprintf("Covers %d RF-controlled target(s)", rfTargets),
			},
			Cons: []string{
				"Ineffective against autonomous or pre-programmed flight",
				"May interfere with friendly emitters on shared bands",
			},
		})

		layered := make([]countermeasure.Command, 0, len(jamming)+len(aggressive))
		for _, j := range jamming {
			spot := j.Clone()
			spot.ElectronicJamming.JammingType = "spot"
			spot.ElectronicJamming.PowerDBm = spotJamPowerDBm
			spot.ElectronicJamming.DurationS = spotJamDurationS
			layered = append(layered, spot)
		}
		for _, c := range aggressive {
			layered = append(layered, c.Clone())
		}
		plans = append(plans, Plan{
			PlanName: "Layered Defense",
			Approach: ApproachCombined,
			Commands: layered,
			Pros: []string{
				"Jamming degrades targets before hard kill",
				"Independent layers raise the combined kill chance",
			},
			Cons: []string{
				"Longest engagement timeline",
				"Highest coordination and resource demand",
			},
		})
	}

	if len(plans) < 2 {
		return Batch{}, &PlanningFailure{
			IncidentID: incidentID,
			Viable:     len(plans),
			Reason:     "no RF-controlled target for a non-kinetic alternative",
		}
	}

	for i := range plans {
		plans[i].PlanID = fmt.Sprintf("PLAN-%03d", i+1)
		plans[i].TargetIDs = targetIDs(plans[i].Commands)
		if err := g.score(&plans[i]); err != nil {
			return Batch{}, &PlanningFailure{IncidentID: incidentID, Viable: len(plans), Reason: "cannot score " + plans[i].PlanID, Err: err}
		}
	}
	rank(plans)

	batch := Batch{
		IncidentID:  incidentID,
		GeneratedAt: g.now().UTC().Format(time.RFC3339),
		Plans:       plans,
	}
	if err := ValidateBatch(batch); err != nil {
		return Batch{}, &PlanningFailure{IncidentID: incidentID, Viable: len(plans), Reason: "generated batch is invalid", Err: err}
	}
	return batch, nil
}

// aggressiveCommands takes each target's destructive option: kinetic when
// recommended, else its directed energy recommendation, else a default shot.
func aggressiveCommands(actionable []classify.ThreatAssessment) []countermeasure.Command {
	out := make([]countermeasure.Command, 0, len(actionable))
	for _, a := range actionable {
		cmd, ok := recommended(a, countermeasure.KindKineticDefense)
		if !ok {
			cmd, ok = recommended(a, countermeasure.KindDirectedEnergy)
		}
		if !ok {
			cmd = countermeasure.NewDirectedEnergy(a.ThreatID, countermeasure.DirectedEnergy{
				PowerKW: 40, FrequencyGHz: 95, BeamWidthDeg: 15, DurationS: 3,
			})
		}
		out = append(out, cmd)
	}
	return out
}

// jammingCommands builds one jamming command per RF-controlled target.
func jammingCommands(actionable []classify.ThreatAssessment) ([]countermeasure.Command, int) {
	var out []countermeasure.Command
	for _, a := range actionable {
		if !rfControlled(a) {
			continue
		}
		cmd, ok := recommended(a, countermeasure.KindElectronicJamming)
		if !ok {
			cmd = countermeasure.NewElectronicJamming(a.ThreatID, countermeasure.ElectronicJamming{
				FrequencyMHz: defaultLinkMHz, PowerDBm: 40, JammingType: "barrage", DurationS: 10,
			})
		}
		out = append(out, cmd)
	}
	return out, len(out)
}

func rfControlled(a classify.ThreatAssessment) bool {
	switch sensors.ObjectType(a.ThreatType) {
	case sensors.ObjectDrone, sensors.ObjectAircraft, sensors.ObjectUnknown:
		return true
	}
	return a.Recommends(countermeasure.KindElectronicJamming)
}

func recommended(a classify.ThreatAssessment, kind countermeasure.Kind) (countermeasure.Command, bool) {
	for _, r := range a.RecommendedCountermeasures {
		if r.Command.Type == kind {
			cmd := r.Command.Clone()
			if cmd.TargetID == "" {
				cmd.TargetID = a.ThreatID
			}
			return cmd, true
		}
	}
	return countermeasure.Command{}, false
}

var commandCost = map[countermeasure.Kind]Cost{
	countermeasure.KindElectronicJamming: CostLow,
	countermeasure.KindDirectedEnergy:    CostMedium,
	countermeasure.KindKineticDefense:    CostHigh,
}

// score fills effectiveness, time and cost. Single-domain plans average the
// command effectiveness. Combined plans treat the commands aimed at one
// target as independent kill chances and average the per-target result.
func (g *Generator) score(p *Plan) error {
	var (
		sum, timeS float64
		cost       = CostLow
		order      []string
		miss       = map[string]float64{}
	)
	for i, cmd := range p.Commands {
		pred, err := g.estimator.Estimate(cmd)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		sum += pred.Effectiveness
		if _, ok := miss[cmd.TargetID]; !ok {
			miss[cmd.TargetID] = 1
			order = append(order, cmd.TargetID)
		}
		miss[cmd.TargetID] *= 1 - clamp(pred.Effectiveness, 0, 100)/100
		timeS += pred.ExecutionTimeS
		if c := commandCost[cmd.Type]; c.Rank() > cost.Rank() {
			cost = c
		}
	}

	eff := sum / float64(len(p.Commands))
	if p.Approach == ApproachCombined {
		var kill float64
		for _, id := range order {
			kill += 100 * (1 - miss[id])
		}
		eff = kill / float64(len(order))
	}
	p.EstimatedEffectiveness = round1(clamp(eff, 0, 100))
	p.ExecutionTimeS = round1(timeS)
	p.ResourceCost = cost
	return nil
}

// rank numbers plans by effectiveness, fastest first on ties. Batch order is unchanged.
func rank(plans []Plan) {
	idx := make([]int, len(plans))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := plans[idx[a]], plans[idx[b]]
		if pa.EstimatedEffectiveness != pb.EstimatedEffectiveness {
			return pa.EstimatedEffectiveness > pb.EstimatedEffectiveness
		}
		return pa.ExecutionTimeS < pb.ExecutionTimeS
	})
	for r, i := range idx {
		plans[i].Rank = r + 1
	}
}

func targetIDs(cmds []countermeasure.Command) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, c := range cmds {
		if c.TargetID == "" || seen[c.TargetID] {
			continue
		}
		seen[c.TargetID] = true
		out = append(out, c.TargetID)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
