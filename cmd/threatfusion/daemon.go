package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"threatfusion/internal/daemon"
	"threatfusion/internal/workspace"
)

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Process scenarios dropped into the workspace inbox",
	}
	cmd.AddCommand(newDaemonRunCmd(a), newDaemonStatusCmd(a))
	return cmd
}

func newDaemonRunCmd(a *app) *cobra.Command {
	var pollInterval, leaseFor time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inbox daemon until interrupted",
		Long: "Run the inbox daemon until interrupted. Every scenario copied into the inbox\n" +
			"is fused and planned; plans.json is written to its incident directory and the\n" +
			"daemon waits for an operator to write selection.json next to it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ws.EnsureDirs(); err != nil {
				return err
			}
			store, err := a.tableStore()
			if err != nil {
				return err
			}
			pcfg, err := a.pipelineConfig(store)
			if err != nil {
				return err
			}

			cfg := daemon.Config{
				Workspace:     a.ws,
				StorePath:     a.ws.StateDBPath,
				LeaseFor:      a.cfg.Daemon.LeaseFor,
				PollInterval:  a.cfg.Daemon.PollInterval,
				ScanInterval:  a.cfg.Daemon.ScanInterval,
				Notifications: a.cfg.Daemon.Notifications,
				Pipeline:      pcfg,
				Scoring:       store,
				WatchScoring:  a.cfg.Scoring.Watch,
				Logger:        a.logger,
			}
			if cmd.Flags().Changed("poll") {
				cfg.PollInterval = pollInterval
			}
			if cmd.Flags().Changed("lease") {
				cfg.LeaseFor = leaseFor
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Starting daemon for workspace: %s\n", a.ws.Root)
			fmt.Fprintf(out, "Inbox: %s\n", a.ws.InboxDir)
			fmt.Fprintf(out, "Poll interval: %s, Lease: %s\n", d.PollInterval, d.LeaseFor)
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&pollInterval, "poll", 0, "poll interval for jobs and selections (default from config)")
	cmd.Flags().DurationVar(&leaseFor, "lease", 0, "lease duration for claimed jobs; bounds the wait for a selection (default from config)")
	return cmd
}

func newDaemonStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's last run and its running, queued and recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Resolve(a.ws.Root)
			if err != nil {
				return err
			}
			store, err := daemon.Open(ws.StateDBPath)
			if err != nil {
				return fmt.Errorf("open daemon store: %w", err)
			}
			defer store.Close()
			return printStatus(cmd.OutOrStdout(), store)
		},
	}
}

func printStatus(out io.Writer, store *daemon.Store) error {
	run, err := store.LastRun()
	if err != nil {
		return fmt.Errorf("last run: %w", err)
	}
	if run == nil {
		fmt.Fprintln(out, "Last run: never")
	} else {
		finished := "running"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "Last run: %s owner=%s started=%s finished=%s status=%s\n",
			run.ID, run.Owner, run.StartedAt.Format(time.RFC3339), finished, run.Status)
	}
	fmt.Fprintln(out)

	running, err := store.ListRunning()
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	fmt.Fprintf(out, "Running jobs: %d\n", len(running))
	for _, job := range running {
		var started, expires string
		if job.StartedAt != nil {
			started = job.StartedAt.Format(time.RFC3339)
		}
		if job.LeaseExpiresAt != nil {
			expires = job.LeaseExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  %s [%s] %s started=%s lease_expires=%s\n", job.ID, job.Type, job.Key, started, expires)
	}
	fmt.Fprintln(out)

	queued, err := store.ListQueued(10)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	fmt.Fprintf(out, "Queued jobs (next %d):\n", len(queued))
	for _, job := range queued {
		fmt.Fprintf(out, "  %s [%s] %s scheduled=%s\n", job.ID, job.Type, job.Key, job.ScheduledAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)

	completed, err := store.ListRecentCompleted(5)
	if err != nil {
		return fmt.Errorf("list completed jobs: %w", err)
	}
	fmt.Fprintf(out, "Recent completed jobs (last %d):\n", len(completed))
	for _, job := range completed {
		var finished string
		if job.FinishedAt != nil {
			finished = job.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  %s [%s] status=%s finished=%s\n", job.ID, job.Type, job.Status, finished)
		if job.ResultJSON != "" {
			fmt.Fprintf(out, "    result: %s\n", job.ResultJSON)
		}
	}
	return nil
}
