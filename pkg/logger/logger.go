// Package logger builds the slog loggers used across the platform. Every
// record is JSON on stdout and carries a service attribute so logs from
// the api and the migrator can be told apart.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON logger at the given level, tagged with the service
// name.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}
