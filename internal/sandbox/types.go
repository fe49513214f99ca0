package sandbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrWindowClosed = errors.New("sandbox window is closed")
	ErrPoolClosed   = errors.New("sandbox pool is closed")
	ErrTimeout      = errors.New("sandbox acquisition timeout")
)

// DefaultOrigin is the origin reported by location.href
const DefaultOrigin = "http://sandbox.surfpack.local"

// Config defines window configuration
type Config struct {
	Timeout            time.Duration // Execution limit per task
	MaxCallStackSize   int           // goja call stack limit
	EnableConsole      bool          // Capture console.* output
	ConsoleLimit       int           // Entries kept in the console buffer
	MountDefaultExport bool          // Call the bundle's default export after evaluation
	Origin             string        // Origin of the emulated location
	GlobalName         string        // Global the bundle assigns its exports to
	Target             string        // Language level for fetched modules
}

// DefaultConfig returns the configuration used by the preview server
func DefaultConfig() Config {
	return Config{
		Timeout:            5 * time.Second,
		MaxCallStackSize:   1024,
		EnableConsole:      true,
		ConsoleLimit:       1000,
		MountDefaultExport: true,
		Origin:             DefaultOrigin,
	}
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Fetcher downloads remote modules for require()
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Option customises a Window
type Option func(*Window)

// WithLogger sets the window logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Window) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFetcher sets the module fetcher used by require()
func WithFetcher(f Fetcher) Option {
	return func(w *Window) {
		w.fetcher = f
	}
}

// WithConsoleHook registers a callback for each console entry. The hook
// runs on the event loop and must not block.
func WithConsoleHook(fn func(LogEntry)) Option {
	return func(w *Window) {
		w.consoleHook = fn
	}
}
