package observability

import (
	"log/slog"
	"os"
)

// Init installs a JSON slog handler at the requested level. Every component
// logs through slog.With("component", ...) rather than free-form
// concatenation, per §4.11.
func Init(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// For returns a component-scoped logger, the idiom used by every package
// below instead of calling the package-level slog functions directly.
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
