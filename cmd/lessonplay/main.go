// Command lessonplay mounts one protected lesson against a running lesson
// service with a simulated media element. It walks the whole client path:
// code challenge, URL resolution, resume, checkpoints and heartbeats.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
