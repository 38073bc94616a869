package daemon

import (
	"fmt"
	"time"
)

const (
	JobInboxScan   = "inbox_scan"
	JobIncidentRun = "incident_run"

	watermarkKey = "scheduler_watermark"
)

// Scheduler enqueues recurring inbox scans.
type Scheduler struct {
	store    *Store
	interval time.Duration
}

func NewScheduler(store *Store, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scan interval must be positive, got %s", interval)
	}
	return &Scheduler{store: store, interval: interval}, nil
}

// Tick enqueues an inbox_scan for the latest interval boundary when it lies
// after the previous tick. Missed boundaries are not replayed; one scan sees
// everything that arrived meanwhile.
func (s *Scheduler) Tick(now time.Time) error {
	watermarkStr, err := s.store.GetKV(watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}

	var lastWatermark time.Time
	if watermarkStr != "" {
		lastWatermark, err = time.Parse(time.RFC3339Nano, watermarkStr)
		if err != nil {
			return fmt.Errorf("parse watermark: %w", err)
		}
	}

	if boundary := now.Truncate(s.interval); boundary.After(lastWatermark) {
		if err := s.enqueueScan(boundary); err != nil {
			return err
		}
	}

	if err := s.store.SetKV(watermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}

func (s *Scheduler) enqueueScan(at time.Time) error {
	key := at.UTC().Format(time.RFC3339Nano)
	payload := map[string]any{"scheduled_time": at.UTC().Format(time.RFC3339)}
	if _, _, err := s.store.EnqueueUnique(JobInboxScan, key, at, payload); err != nil {
		return fmt.Errorf("enqueue %s at %s: %w", JobInboxScan, at, err)
	}
	return nil
}
