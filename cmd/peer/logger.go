package main

import (
	"log/slog"
	"os"

	"github.com/immxrtalbeast/peerplay/lib/logger/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// setupLogger writes to stderr so logs never interleave with the board.
// Without verbose only warnings are shown.
func setupLogger(env string, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	switch env {
	case envDev, envProd:
		return slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		)
	default:
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: level},
		}
		return slog.New(opts.NewPrettyHandler(os.Stderr))
	}
}
