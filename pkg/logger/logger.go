package logger

import (
	"log"
	"log/slog"
)

// New returns a stdlib *log.Logger that forwards lines to base at the given level,
// tagged with the component name. Third-party clients that only accept a
// Printf-style logger use it.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), level)
}
