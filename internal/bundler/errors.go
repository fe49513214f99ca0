package bundler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHTMLEntry is returned when an explicit entry names an HTML manifest
var ErrHTMLEntry = errors.New("html files cannot be used as an entry point")

// ResolutionError reports that no entry point could be determined
type ResolutionError struct {
	Entry string
	Tried []string
	Err   error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	if e.Entry != "" {
		fmt.Fprintf(&b, "entry file not found: %s", e.Entry)
	} else {
		b.WriteString("no entry file could be resolved")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Tried, ", "))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// CompilationError wraps a failure reported by the compiler engine
type CompilationError struct {
	Message string
	Errors  []string
	Err     error
}

func (e *CompilationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "\n")
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "compilation failed"
}

func (e *CompilationError) Unwrap() error { return e.Err }

// IsCompilationError reports whether err is or wraps a *CompilationError
func IsCompilationError(err error) bool {
	var ce *CompilationError
	return errors.As(err, &ce)
}

// IsResolutionError reports whether err is or wraps a *ResolutionError
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
