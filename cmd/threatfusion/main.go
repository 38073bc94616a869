package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"threatfusion/internal/gate"
	"threatfusion/internal/observability"
)

// Exit codes beyond the generic failure.
const (
	exitFailure  = 1
	exitDeclined = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, gate.ErrDeclined) {
		return exitDeclined
	}
	return exitFailure
}
