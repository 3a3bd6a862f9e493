package logging

import (
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to use JSON output at the given level.
// Every record carries the binary name under "service".
func SetupJSON(level slog.Level, service string) {
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	).With("service", service)
	slog.SetDefault(logger)
}
