// Package logging provides the process-wide structured logger, built on
// log/slog so that every component gets levels, structured fields, and a
// swappable handler, with a verbose/quiet toggle over the minimum level.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Options configures the process logger.
type Options struct {
	// JSON selects a JSON handler (production); the default is a
	// human-readable text handler (development).
	JSON bool
	// Verbose lowers the minimum level to Debug.
	Verbose bool
	// Quiet raises the minimum level to Warn, suppressing informational
	// output — the slog analogue of debug.SetQuiet.
	Quiet bool
}

// Configure installs the process-wide logger per opts. Safe to call more
// than once (e.g. after flags are parsed in PersistentPreRun).
func Configure(opts Options) {
	level := slog.LevelInfo
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelWarn
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	mu.Lock()
	current = slog.New(handler)
	mu.Unlock()
}

// Logger returns the process-wide logger.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// With returns the process logger with the given structured fields attached,
// a convenience for the common "component-scoped logger" pattern used by
// CSE, the worker pool, and the orchestrators.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}
