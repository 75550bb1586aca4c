package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/web5lab/consoletext"
	"gitlab.com/tozd/go/errors"
)

func main() {
	tap := consoletext.New(
		consoletext.WithName("example"),
		consoletext.WithEndpoint(os.Getenv("CONSOLETEXT_ENDPOINT")),
		consoletext.WithAPIKey(os.Getenv("CONSOLETEXT_API_KEY")),
		consoletext.WithAllowedLevels("error", "text"),
	).Init()
	defer tap.Restore()
	defer tap.CapturePanic()

	// Standard entry points now route through the interceptor.
	slog.Info("service starting", "version", "1.4.2")
	slog.Debug("cache warmed", "entries", 1280)
	slog.Warn("disk usage high", "percent", 91)

	// The std log package is bridged too.
	log.Print("legacy component initialized")

	// The extra "text" entry point: always printed, shipped because
	// "text" is in the allowed levels.
	consoletext.Text("hello")

	// Errors are enhanced with context and a cleaned stack before
	// display and shipping.
	err := errors.WithDetails(
		errors.WithStack(errors.New("database connection failed")),
		"host", "localhost",
		"port", 5432,
	)
	slog.Error("startup check failed", "error", err)

	// Detached-task failures are captured as unhandled rejections.
	tap.Go(func() error {
		return errors.New("background refresh failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = tap.Flush(ctx)
}
