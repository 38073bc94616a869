// Package guardrails validates operator-written files before they can
// influence an incident.
package guardrails

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// SelectionFileName is written by the operator next to plans.json.
const SelectionFileName = "selection.json"

// SelectionSchemaVersion is the only accepted schema_version.
const SelectionSchemaVersion = "1.0"

// Selection is an operator's file-based decision for one incident. Exactly
// one of PlanID and Decline must be set.
type Selection struct {
	SchemaVersion string `json:"schema_version"`
	IncidentID    string `json:"incident_id"`
	PlanID        string `json:"plan_id,omitempty"`
	Decline       bool   `json:"decline,omitempty"`
	Operator      string `json:"operator"`
	Note          string `json:"note,omitempty"`
}

var selectionFields = map[string]bool{
	"schema_version": true,
	"incident_id":    true,
	"plan_id":        true,
	"decline":        true,
	"operator":       true,
	"note":           true,
}

var requiredSelectionFields = []string{"schema_version", "incident_id", "operator"}

// ValidateSelectionJSON reads and strictly validates a selection file for
// incidentID. Unknown fields are rejected. Whether the plan id was offered is
// left to the gate.
func ValidateSelectionJSON(path, incidentID string) (Selection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Selection{}, fmt.Errorf("read %s: %w", SelectionFileName, err)
	}

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return Selection{}, fmt.Errorf("parse %s: %w", SelectionFileName, err)
	}

	var extra []string
	for field := range rawMap {
		if !selectionFields[field] {
			extra = append(extra, field)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return Selection{}, fmt.Errorf("%s contains disallowed fields: %v", SelectionFileName, extra)
	}
	for _, field := range requiredSelectionFields {
		if _, ok := rawMap[field]; !ok {
			return Selection{}, fmt.Errorf("missing required field: %s", field)
		}
	}

	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selection{}, fmt.Errorf("parse %s structure: %w", SelectionFileName, err)
	}
	if sel.SchemaVersion != SelectionSchemaVersion {
		return Selection{}, fmt.Errorf("schema_version must be %q, got: %q", SelectionSchemaVersion, sel.SchemaVersion)
	}
	if sel.IncidentID != incidentID {
		return Selection{}, fmt.Errorf("incident_id %q does not match incident %q", sel.IncidentID, incidentID)
	}
	if strings.TrimSpace(sel.Operator) == "" {
		return Selection{}, fmt.Errorf("operator must be a non-empty string")
	}
	sel.PlanID = strings.TrimSpace(sel.PlanID)
	switch {
	case sel.Decline && sel.PlanID != "":
		return Selection{}, fmt.Errorf("plan_id and decline are mutually exclusive")
	case !sel.Decline && sel.PlanID == "":
		return Selection{}, fmt.Errorf("plan_id is required unless decline is true")
	}
	return sel, nil
}
