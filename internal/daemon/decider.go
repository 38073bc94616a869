package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"threatfusion/internal/gate"
	"threatfusion/internal/guardrails"
	"threatfusion/internal/planner"
)

// ErrPlansModified means plans.json changed while the operator was deciding.
var ErrPlansModified = errors.New("published plans were modified")

// FileDecider waits for an operator to drop selection.json into the
// incident directory next to plans.json. The file must be written
// atomically (write elsewhere, then rename into place).
type FileDecider struct {
	IncidentsDir string
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (d *FileDecider) Decide(ctx context.Context, incidentID string, plans []planner.Plan) (string, error) {
	dir := filepath.Join(d.IncidentsDir, incidentID)
	check, err := guardrails.NewIntegrityCheck(filepath.Join(dir, planner.BatchFileName))
	if err != nil {
		return "", err
	}
	if check.BeforeHash == "" {
		return "", fmt.Errorf("%s not published for incident %s", planner.BatchFileName, incidentID)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := d.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	selectionPath := filepath.Join(dir, guardrails.SelectionFileName)
	logger.Info("Waiting for selection file", zap.String("path", selectionPath), zap.Int("plans", len(plans)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(selectionPath); err == nil {
			return d.resolve(dir, selectionPath, incidentID, check)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *FileDecider) resolve(dir, selectionPath, incidentID string, check *guardrails.IntegrityCheck) (string, error) {
	sel, err := guardrails.ValidateSelectionJSON(selectionPath, incidentID)
	if err != nil {
		return "", fmt.Errorf("invalid selection: %w", err)
	}
	if err := check.Verify(); err != nil {
		v := guardrails.BuildViolation("plans_modified", map[string]any{
			"incident_id": incidentID,
			"operator":    sel.Operator,
			"expected":    check.BeforeHash,
			"error":       err.Error(),
		})
		if werr := guardrails.WriteViolation(dir, v); werr != nil {
			return "", errors.Join(fmt.Errorf("%w: %v", ErrPlansModified, err), werr)
		}
		return "", fmt.Errorf("%w: %v", ErrPlansModified, err)
	}
	if sel.Decline {
		return "", fmt.Errorf("%w (operator %s)", gate.ErrDeclined, sel.Operator)
	}
	return sel.PlanID, nil
}
