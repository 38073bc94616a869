package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"threatfusion/internal/guardrails"
)

const inboxStateKey = "inbox_state"

// InboxEntry is the last seen content hash of one inbox file.
type InboxEntry struct {
	Path     string `json:"path"`
	Hash     string `json:"hash"`
	LastSeen string `json:"last_seen"`
}

// IncidentPayload is the payload of an incident_run job.
type IncidentPayload struct {
	ScenarioPath string `json:"scenario_path"`
	Hash         string `json:"hash"`
}

// handleInboxScan enqueues an incident_run for every inbox file that is new or
// whose contents changed since the previous scan. Removed files are forgotten.
func (d *Daemon) handleInboxScan(ctx context.Context, job *Job) (any, error) {
	changed, err := scanInbox(d.Store, d.Workspace.InboxDir, d.Workspace.ListInbox)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	enqueued := []string{}
	for _, e := range changed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload := IncidentPayload{ScenarioPath: e.Path, Hash: e.Hash}
		jobID, created, err := d.Store.EnqueueUnique(JobIncidentRun, e.Path+"@"+e.Hash, now, payload)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", JobIncidentRun, err)
		}
		if created {
			d.logger.Info("Scenario queued", zap.String("path", e.Path), zap.String("job_id", jobID))
			enqueued = append(enqueued, filepath.Base(e.Path))
		}
	}

	status := "no_changes"
	if len(enqueued) > 0 {
		status = "changes_detected"
	}
	return map[string]any{
		"checked_at": now.UTC().Format(time.RFC3339),
		"status":     status,
		"enqueued":   enqueued,
	}, nil
}

// scanInbox hashes every listed file and returns those whose hash differs
// from the stored state, then saves the new state.
func scanInbox(store *Store, dir string, list func() ([]string, error)) ([]InboxEntry, error) {
	paths, err := list()
	if err != nil {
		return nil, fmt.Errorf("list inbox %s: %w", dir, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	current := make(map[string]InboxEntry, len(paths))
	for _, p := range paths {
		hash, err := guardrails.FileHash(p)
		if err != nil {
			return nil, err
		}
		if hash == "" {
			// Removed between listing and hashing.
			continue
		}
		current[p] = InboxEntry{Path: p, Hash: hash, LastSeen: now}
	}

	stateJSON, err := store.GetKV(inboxStateKey)
	if err != nil {
		return nil, fmt.Errorf("get inbox state: %w", err)
	}
	previous := map[string]InboxEntry{}
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &previous); err != nil {
			return nil, fmt.Errorf("parse inbox state: %w", err)
		}
	}

	changed := []InboxEntry{}
	for _, p := range paths {
		e, ok := current[p]
		if !ok {
			continue
		}
		if prev, seen := previous[p]; !seen || prev.Hash != e.Hash {
			changed = append(changed, e)
		}
	}

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal inbox state: %w", err)
	}
	if err := store.SetKV(inboxStateKey, string(data)); err != nil {
		return nil, fmt.Errorf("save inbox state: %w", err)
	}
	return changed, nil
}
