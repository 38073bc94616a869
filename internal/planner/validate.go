package planner

import (
	"fmt"
	"math"
	"strings"
)

// ValidateBatch checks the shape the decision gate relies on: two or three
// plans with unique ids and approaches, each carrying commands.
func ValidateBatch(batch Batch) error {
	if n := len(batch.Plans); n < 2 || n > 3 {
		return fmt.Errorf("batch must include 2 or 3 plans, got %d", n)
	}
	ids := map[string]bool{}
	approaches := map[Approach]bool{}
	for idx, plan := range batch.Plans {
		if err := ValidatePlan(plan); err != nil {
			return fmt.Errorf("plan %d: %w", idx, err)
		}
		if ids[plan.PlanID] {
			return fmt.Errorf("plan %d: duplicate plan_id %s", idx, plan.PlanID)
		}
		ids[plan.PlanID] = true
		if approaches[plan.Approach] {
			return fmt.Errorf("plan %d: duplicate approach %s", idx, plan.Approach)
		}
		approaches[plan.Approach] = true
	}
	return nil
}

func ValidatePlan(plan Plan) error {
	if strings.TrimSpace(plan.PlanID) == "" {
		return fmt.Errorf("plan_id is required")
	}
	if strings.TrimSpace(plan.PlanName) == "" {
		return fmt.Errorf("plan_name is required")
	}
	if strings.TrimSpace(string(plan.Approach)) == "" {
		return fmt.Errorf("approach is required")
	}
	if len(plan.Commands) == 0 {
		return fmt.Errorf("plan must include at least one command")
	}
	for idx, cmd := range plan.Commands {
		if strings.TrimSpace(string(cmd.Type)) == "" {
			return fmt.Errorf("command %d: type is required", idx)
		}
	}
	eff := plan.EstimatedEffectiveness
	if math.IsNaN(eff) || eff < 0 || eff > 100 {
		return fmt.Errorf("estimated_effectiveness must be within [0,100]")
	}
	if math.IsNaN(plan.ExecutionTimeS) || plan.ExecutionTimeS < 0 {
		return fmt.Errorf("execution_time_s must be non-negative")
	}
	if plan.ResourceCost.Rank() == 0 {
		return fmt.Errorf("resource_cost must be LOW, MEDIUM or HIGH")
	}
	return nil
}
