package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sblumenf/podcastknowledge-sub007/internal/cli"
)

// main translates SIGINT/SIGTERM into context cancellation and maps the
// result to the CLI's exit codes: 0 success, 1 fatal error, 130
// user-cancelled.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cli.ExecuteContext(ctx)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		os.Exit(130)
	}
	os.Exit(1)
}
