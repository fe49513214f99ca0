package diagnostics

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"

	"github.com/vvanghelue/surfpack/internal/sandbox"
)

const (
	unknownError = "Unknown error"
	noStackTrace = "(no stack trace)"
)

// Normalized is the message and stack extracted from a thrown value
type Normalized struct {
	Message string
	Stack   string
	// IsError is set when the value was an Error object
	IsError bool
}

// Normalize extracts a message and stack from any thrown JS value
func Normalize(v goja.Value) Normalized {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		message := stringProp(obj, "message")
		stack := stringProp(obj, "stack")
		if stack == "" {
			stack = message
		}
		return Normalized{
			Message: orDefault(message, unknownError),
			Stack:   orDefault(stack, noStackTrace),
			IsError: true,
		}
	}

	text, ok := stringify(v)
	if !ok {
		return Normalized{Message: unknownError, Stack: noStackTrace}
	}
	return Normalized{
		Message: orDefault(text, unknownError),
		Stack:   orDefault(text, noStackTrace),
	}
}

// NormalizeError extracts a message and stack from a Go error
func NormalizeError(err error) Normalized {
	if err == nil {
		return Normalized{Message: unknownError, Stack: noStackTrace, IsError: true}
	}
	message := err.Error()
	return Normalized{
		Message: orDefault(message, unknownError),
		Stack:   orDefault(message, noStackTrace),
		IsError: true,
	}
}

// normalizeEvent mirrors what a browser listener sees: the event's error,
// or an Error built from its message
func normalizeEvent(e *sandbox.Event) Normalized {
	if e.Error != nil && !goja.IsUndefined(e.Error) && !goja.IsNull(e.Error) {
		return Normalize(e.Error)
	}
	message := orDefault(e.Message, unknownError)
	return Normalized{
		Message: message,
		Stack:   orDefault(e.Stack, message),
		IsError: true,
	}
}

func stringify(v goja.Value) (s string, ok bool) {
	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()
	if v == nil || goja.IsUndefined(v) {
		return "", true
	}
	if str, isString := v.Export().(string); isString {
		return str, true
	}
	data, err := sonic.ConfigStd.Marshal(v.Export())
	if err != nil {
		return "", false
	}
	return string(data), true
}

func stringProp(obj *goja.Object, name string) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ============================================================================
// Resource Filtering
// ============================================================================

var resourceTags = map[string]bool{
	"img":    true,
	"link":   true,
	"script": true,
	"video":  true,
	"audio":  true,
	"source": true,
	"iframe": true,
}

var networkPatterns = []string{
	"network error",
	"failed to fetch",
	"load failed",
	"loading css chunk",
	"loading chunk",
	"connection refused",
	"timeout",
	"network request failed",
	"fetch error",
	"cors error",
	"resource not found",
	"404",
	"503",
	"failed to load resource",
}

// IsResourceError reports whether a failure is a sub-resource load or
// network problem rather than an application bug
func IsResourceError(target sandbox.Target, n Normalized) bool {
	if target.Element && resourceTags[strings.ToLower(target.Tag)] {
		return true
	}
	if !n.IsError {
		return false
	}
	return IsNetworkMessage(n.Message)
}

// IsNetworkMessage reports whether message matches a known network failure
func IsNetworkMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range networkPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
