package util

import (
	"log/slog"
	"time"
)

// Trace logs how long an operation took. Use as `defer util.Trace("op")()`.
func Trace(name string, args ...any) func() {
	start := time.Now()
	return func() {
		slog.Debug("trace", append([]any{"op", name, "elapsed", time.Since(start)}, args...)...)
	}
}
