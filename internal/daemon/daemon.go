// Package daemon watches the workspace inbox and runs every dropped scenario
// through the pipeline, waiting on file-based operator selections.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"threatfusion/internal/audit"
	"threatfusion/internal/notify"
	"threatfusion/internal/pipeline"
	"threatfusion/internal/scoring"
	"threatfusion/internal/workspace"
)

const actor = "daemon"

// HandlerFunc executes one claimed job and returns its result record.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Daemon claims queued jobs one at a time and executes them.
type Daemon struct {
	Workspace    *workspace.Workspace
	Store        *Store
	Scheduler    *Scheduler
	Handlers     map[string]HandlerFunc
	AuditLogger  *audit.Logger
	Notifier     *notify.Notifier
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration

	pipeline     pipeline.Config
	scoring      *scoring.TableStore
	watchScoring bool
	logger       *zap.Logger
}

// Config holds daemon configuration.
type Config struct {
	Workspace     *workspace.Workspace
	StorePath     string
	LeaseOwner    string
	LeaseFor      time.Duration
	PollInterval  time.Duration
	ScanInterval  time.Duration
	Notifications bool

	// Pipeline is the template for every incident. Its IncidentsDir, Audit,
	// Logger and OnOffer are set by the daemon.
	Pipeline pipeline.Config
	// Scoring, when set with WatchScoring, is hot-reloaded while running.
	Scoring      *scoring.TableStore
	WatchScoring bool

	Logger *zap.Logger
}

// New opens the state store and registers the built-in handlers.
func New(cfg Config) (*Daemon, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if cfg.StorePath == "" {
		cfg.StorePath = cfg.Workspace.StateDBPath
	}
	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 10 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	store, err := Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	scheduler, err := NewScheduler(store, cfg.ScanInterval)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daemon{
		Workspace:    cfg.Workspace,
		Store:        store,
		Scheduler:    scheduler,
		AuditLogger:  audit.NewLogger(cfg.Workspace.AuditDBPath),
		Notifier:     &notify.Notifier{Enabled: cfg.Notifications},
		LeaseOwner:   cfg.LeaseOwner,
		LeaseFor:     cfg.LeaseFor,
		PollInterval: cfg.PollInterval,
		pipeline:     cfg.Pipeline,
		scoring:      cfg.Scoring,
		watchScoring: cfg.WatchScoring,
		logger:       cfg.Logger.Named("daemon"),
	}
	d.Handlers = map[string]HandlerFunc{
		JobInboxScan:   d.handleInboxScan,
		JobIncidentRun: d.handleIncidentRun,
	}
	return d, nil
}

// RegisterHandler registers or replaces the handler for a job type.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.Handlers[jobType] = handler
}

// Run polls for work until ctx is cancelled. When configured, the scoring
// table is watched alongside the poll loop.
func (d *Daemon) Run(ctx context.Context) (err error) {
	runID, err := d.Store.StartRun(d.LeaseOwner, time.Now())
	if err != nil {
		return err
	}
	d.audit("daemon_started", map[string]any{
		"run_id":        runID,
		"workspace":     d.Workspace.Root,
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
	})
	d.logger.Info("Daemon started",
		zap.String("workspace", d.Workspace.Root),
		zap.String("inbox", d.Workspace.InboxDir),
		zap.Duration("poll_interval", d.PollInterval))

	defer func() {
		if ferr := d.Store.FinishRun(runID, time.Now(), err); ferr != nil {
			d.logger.Warn("Failed to close run record", zap.Error(ferr))
		}
		d.audit("daemon_stopped", map[string]any{"run_id": runID})
		d.logger.Info("Daemon stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	if d.watchScoring && d.scoring != nil {
		g.Go(func() error {
			return d.scoring.Watch(gctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(d.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if _, err := d.RunOnce(gctx, now); err != nil && gctx.Err() == nil {
					d.logger.Error("Job execution failed", zap.Error(err))
				}
			}
		}
	})
	return g.Wait()
}

// RunOnce requeues expired leases, ticks the scheduler and executes at most
// one due job. It returns the job it ran, if any.
func (d *Daemon) RunOnce(ctx context.Context, now time.Time) (*Job, error) {
	if n, err := d.Store.RequeueExpired(now); err != nil {
		d.logger.Warn("Lease recovery failed", zap.Error(err))
	} else if n > 0 {
		d.logger.Warn("Requeued jobs with expired leases", zap.Int("jobs", n))
	}
	if err := d.Scheduler.Tick(now); err != nil {
		d.logger.Warn("Scheduler tick failed", zap.Error(err))
	}
	return d.claimAndExecute(ctx, now)
}

func (d *Daemon) claimAndExecute(ctx context.Context, now time.Time) (*Job, error) {
	job, err := d.Store.ClaimNext(now, d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	log := d.logger.With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))
	log.Debug("Job claimed")
	d.audit("job_started", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"payload":  job.PayloadJSON,
	})

	handler, ok := d.Handlers[job.Type]
	var result any
	var execErr error
	if !ok {
		execErr = fmt.Errorf("no handler for job type: %s", job.Type)
	} else {
		result, execErr = handler(ctx, job)
	}

	if execErr != nil {
		if err := d.Store.Fail(job.ID, execErr); err != nil {
			log.Error("Failed to record job failure", zap.Error(err))
		}
		d.audit("job_failed", map[string]any{
			"job_id":   job.ID,
			"job_type": job.Type,
			"error":    execErr.Error(),
		})
		return job, execErr
	}

	if err := d.Store.Succeed(job.ID, result); err != nil {
		return job, fmt.Errorf("mark job succeeded: %w", err)
	}
	d.audit("job_succeeded", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"result":   result,
	})
	log.Debug("Job succeeded")
	return job, nil
}

func (d *Daemon) audit(eventType string, payload map[string]any) {
	if err := d.AuditLogger.LogEvent(actor, eventType, "", payload); err != nil {
		d.logger.Warn("Audit write failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (d *Daemon) notify(title, message string) {
	if err := d.Notifier.Send(title, message); err != nil {
		d.logger.Debug("Notification failed", zap.Error(err))
	}
}

// Close closes the daemon's store.
func (d *Daemon) Close() error {
	return d.Store.Close()
}
