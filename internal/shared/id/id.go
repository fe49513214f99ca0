// Package id generates the identifiers used across surfpack.
//
// All IDs are ULIDs, optionally prefixed with their kind so they read well
// in logs:
//   - prev_<ulid>: preview sessions
//   - port_<ulid>: protocol endpoints
//   - req_<ulid>:  API requests
//
// ULIDs sort by creation time, so preview listings come out in creation
// order without a separate timestamp.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// PreviewID identifies a preview session
type PreviewID string

// PortID identifies one end of a protocol channel
type PortID string

// RequestID identifies an API request
type RequestID string

const (
	PreviewPrefix = "prev"
	PortPrefix    = "port"
	RequestPrefix = "req"
)

func (id PreviewID) String() string { return string(id) }
func (id PortID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// ============================================================================
// Generator
// ============================================================================

// Generator produces monotonic ULIDs
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. IDs minted in the
// same millisecond stay ordered.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator reading from entropy.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a "<prefix>_<ulid>" string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewPreviewID mints a preview session ID
func NewPreviewID() PreviewID {
	return PreviewID(Default().GenerateWithPrefix(PreviewPrefix))
}

// NewPortID mints a protocol endpoint ID
func NewPortID() PortID {
	return PortID(Default().GenerateWithPrefix(PortPrefix))
}

// NewRequestID mints a request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// ============================================================================
// Parsing
// ============================================================================

// IsValid reports whether id is a bare ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Split separates a prefixed ID into its prefix and ULID
func Split(id string) (prefix string, u ulid.ULID, err error) {
	prefix, raw, found := strings.Cut(id, "_")
	if !found {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no prefix", id)
	}
	u, err = ulid.Parse(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", id, err)
	}
	return prefix, u, nil
}

// ValidPreviewID reports whether s was minted by NewPreviewID
func ValidPreviewID(s string) bool {
	prefix, _, err := Split(s)
	return err == nil && prefix == PreviewPrefix
}

// Timestamp extracts the creation time of a bare or prefixed ID
func Timestamp(id string) (time.Time, error) {
	if _, u, err := Split(id); err == nil {
		return ulid.Time(u.Time()), nil
	}
	u, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
