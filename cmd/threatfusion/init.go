package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"threatfusion/internal/workspace"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a workspace with a default config, emitter table and sample scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws := a.ws
			logger := a.auditLogger()
			if aerr := ws.EnsureDirs(); aerr != nil {
				return aerr
			}
			if aerr := logger.LogEvent("cli", "workspace_init_started", "", map[string]any{"workspace": ws.Root}); aerr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "audit log failed:", aerr)
			}
			defer func() {
				payload := map[string]any{"workspace": ws.Root}
				if err != nil {
					payload["error"] = err.Error()
				}
				_ = logger.LogEvent("cli", "workspace_init_finished", "", payload)
			}()

			written, err := ws.Scaffold()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized workspace: %s\n", ws.Root)
			for _, path := range written {
				rel, rerr := filepath.Rel(ws.Root, path)
				if rerr != nil {
					rel = path
				}
				fmt.Fprintf(out, "  wrote %s\n", rel)
			}
			sample := filepath.Join(workspace.SamplesDir, "drone_ku_band.yaml")
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintf(out, "  %s run --workspace %s %s\n", appName, ws.Root, filepath.Join(ws.Root, sample))
			fmt.Fprintf(out, "  %s daemon run --workspace %s\n", appName, ws.Root)
			fmt.Fprintf(out, "  cp %s %s/\n", filepath.Join(ws.Root, sample), ws.InboxDir)
			return nil
		},
	}
}
