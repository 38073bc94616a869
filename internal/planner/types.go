package planner

import "threatfusion/internal/countermeasure"

type Approach string

const (
	ApproachAggressive Approach = "aggressive"
	ApproachNonKinetic Approach = "non-kinetic"
	ApproachCombined   Approach = "combined"
)

// Cost is the coarse resource expenditure of a plan.
type Cost string

const (
	CostLow    Cost = "LOW"
	CostMedium Cost = "MEDIUM"
	CostHigh   Cost = "HIGH"
)

var costRank = map[Cost]int{CostLow: 1, CostMedium: 2, CostHigh: 3}

func (c Cost) Rank() int {
	return costRank[c]
}

// Plan is one candidate response offered to the decision gate.
type Plan struct {
	PlanID                 string                   `json:"plan_id"`
	PlanName               string                   `json:"plan_name"`
	Approach               Approach                 `json:"approach"`
	Rank                   int                      `json:"rank"`
	TargetIDs              []string                 `json:"target_ids"`
	Commands               []countermeasure.Command `json:"commands"`
	EstimatedEffectiveness float64                  `json:"estimated_effectiveness"`
	ExecutionTimeS         float64                  `json:"execution_time_s"`
	ResourceCost           Cost                     `json:"resource_cost"`
	Pros                   []string                 `json:"pros"`
	Cons                   []string                 `json:"cons"`
}

// Clone returns a deep copy of p.
func (p Plan) Clone() Plan {
	out := p
	out.TargetIDs = append([]string(nil), p.TargetIDs...)
	out.Pros = append([]string(nil), p.Pros...)
	out.Cons = append([]string(nil), p.Cons...)
	out.Commands = make([]countermeasure.Command, len(p.Commands))
	for i, c := range p.Commands {
		out.Commands[i] = c.Clone()
	}
	return out
}

// Batch is the set of plans generated for one incident.
type Batch struct {
	IncidentID  string `json:"incident_id"`
	GeneratedAt string `json:"generated_at"`
	Plans       []Plan `json:"plans"`
}

// Clone returns a deep copy of b.
func (b Batch) Clone() Batch {
	out := b
	out.Plans = make([]Plan, len(b.Plans))
	for i, p := range b.Plans {
		out.Plans[i] = p.Clone()
	}
	return out
}

// Find returns the plan with the given id.
func (b Batch) Find(planID string) (Plan, bool) {
	for _, p := range b.Plans {
		if p.PlanID == planID {
			return p, true
		}
	}
	return Plan{}, false
}

// IDs lists plan ids in batch order.
func (b Batch) IDs() []string {
	out := make([]string, 0, len(b.Plans))
	for _, p := range b.Plans {
		out = append(out, p.PlanID)
	}
	return out
}
