package diagnostics

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/go-sourcemap/sourcemap"
)

// ErrNoSourceMap is returned when compiled code carries no inline map
var ErrNoSourceMap = errors.New("no inline source map")

var (
	inlineMapPattern = regexp.MustCompile(`//# sourceMappingURL=data:application/json;base64,(\S+)`)
	framePattern     = regexp.MustCompile(`at (?:(.+?) \()?(blob:[^\s():]+):(\d+):(\d+)`)
)

// Position is a line and column, both 1-based
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// OriginalPosition is where a compiled position came from
type OriginalPosition struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Name   string `json:"name,omitempty"`
}

// DecodedStackFrame is one stack frame mapped back to project source
type DecodedStackFrame struct {
	FunctionName string           `json:"functionName,omitempty"`
	Handle       string           `json:"handle"`
	Compiled     Position         `json:"compiled"`
	Original     OriginalPosition `json:"original"`
}

// SourceFunc returns the compiled code behind a module handle
type SourceFunc func(handle string) (string, bool)

// ExtractInlineSourceMap returns the decoded JSON of the last inline
// source map comment in code
func ExtractInlineSourceMap(code string) ([]byte, error) {
	matches := inlineMapPattern.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return nil, ErrNoSourceMap
	}
	data, err := base64.StdEncoding.DecodeString(matches[len(matches)-1][1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode inline source map: %w", err)
	}
	return data, nil
}

// Decoder maps stack traces through inline source maps. The parsed map of
// the most recent handle is kept.
type Decoder struct {
	mu       sync.Mutex
	handle   string
	consumer *sourcemap.Consumer
}

// NewDecoder creates a decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode maps every frame of stack whose handle source knows and whose
// position the map covers. Unmappable frames are skipped.
func (d *Decoder) Decode(stack string, source SourceFunc) ([]DecodedStackFrame, error) {
	var frames []DecodedStackFrame
	var firstErr error

	for _, m := range framePattern.FindAllStringSubmatch(stack, -1) {
		handle := m[2]
		line, _ := strconv.Atoi(m[3])
		column, _ := strconv.Atoi(m[4])

		consumer, err := d.consumerFor(handle, source)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if consumer == nil {
			continue
		}

		// Map columns are 0-based
		file, name, origLine, origColumn, ok := consumer.Source(line, max(column-1, 0))
		if !ok || file == "" {
			continue
		}
		frames = append(frames, DecodedStackFrame{
			FunctionName: m[1],
			Handle:       handle,
			Compiled:     Position{Line: line, Column: column},
			Original: OriginalPosition{
				Source: file,
				Line:   origLine,
				Column: origColumn + 1,
				Name:   name,
			},
		})
	}
	if len(frames) > 0 {
		return frames, nil
	}
	return nil, firstErr
}

// consumerFor returns the parsed map for handle, or nil when source no
// longer knows the handle
func (d *Decoder) consumerFor(handle string, source SourceFunc) (*sourcemap.Consumer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	code, ok := source(handle)
	if !ok {
		return nil, nil
	}
	if handle == d.handle && d.consumer != nil {
		return d.consumer, nil
	}
	data, err := ExtractInlineSourceMap(code)
	if err != nil {
		return nil, err
	}
	consumer, err := sourcemap.Parse("", data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source map for %s: %w", handle, err)
	}
	d.handle, d.consumer = handle, consumer
	return consumer, nil
}

// Reset drops the cached map
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handle, d.consumer = "", nil
}
