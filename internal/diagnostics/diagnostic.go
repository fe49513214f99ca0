package diagnostics

import (
	"time"
)

// Category classifies a diagnostic
type Category string

const (
	CategoryCompilation Category = "compilation"
	CategoryRuntime     Category = "runtime"
	CategoryRejection   Category = "unhandledrejection"
)

// Titles shown on the surface
const (
	TitleCompilation = "Compilation Error"
	TitleRuntime     = "Runtime Error"
)

// Diagnostic is one failure prepared for display
type Diagnostic struct {
	Title    string              `json:"title"`
	Category Category            `json:"category"`
	Origin   string              `json:"origin,omitempty"`
	Message  string              `json:"message"`
	Stack    string              `json:"stack"`
	Frames   []DecodedStackFrame `json:"frames,omitempty"`
	Preview  *Preview            `json:"preview,omitempty"`
	Time     time.Time           `json:"time"`
}

// title appends the origin to base, as in "Runtime Error (error)"
func title(base, origin string) string {
	if origin == "" {
		return base
	}
	return base + " (" + origin + ")"
}

// Policy selects which categories reach the surface
type Policy struct {
	Enabled             bool
	Runtime             bool
	Compilation         bool
	UnhandledRejections bool
	ContextLines        int
}

// DefaultPolicy shows everything with five lines of context
func DefaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		Runtime:             true,
		Compilation:         true,
		UnhandledRejections: true,
		ContextLines:        DefaultContextLines,
	}
}

// Allows reports whether diagnostics of category are shown
func (p Policy) Allows(c Category) bool {
	if !p.Enabled {
		return false
	}
	switch c {
	case CategoryCompilation:
		return p.Compilation
	case CategoryRuntime:
		return p.Runtime
	case CategoryRejection:
		return p.UnhandledRejections
	default:
		return false
	}
}
