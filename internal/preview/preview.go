package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/diagnostics"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/shared/id"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

var (
	ErrSessionNotFound = errors.New("preview not found")
	ErrNoDocument      = errors.New("preview runs in a remote sandbox")
	ErrTooMany         = errors.New("too many previews")
)

// State is the build state of a preview
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateBuilt    State = "built"
	StateFailed   State = "failed"
)

// Record is one host event with its arrival time
type Record struct {
	Seq   uint64           `json:"seq"`
	Time  time.Time        `json:"time"`
	Name  string           `json:"name"`
	Event controller.Event `json:"event"`
}

// Status is a point-in-time view of a preview
type Status struct {
	ID         id.PreviewID            `json:"id"`
	State      State                   `json:"state"`
	Route      string                  `json:"route"`
	Entry      string                  `json:"entry,omitempty"`
	FileCount  int                     `json:"fileCount"`
	Builds     uint64                  `json:"builds"`
	Error      string                  `json:"error,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
	Diagnostic *diagnostics.Diagnostic `json:"diagnostic,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// Snapshot is the rendered document of an in-process preview
type Snapshot struct {
	HTML        string
	Fingerprint string
	Overlay     bool
}

// Preview is one live sandbox
type Preview struct {
	id      id.PreviewID
	handle  *controller.Handle
	created time.Time
	limit   int

	mu       sync.Mutex
	state    State
	builds   uint64
	lastErr  string
	warnings []string
	updated  time.Time
	history  []Record
	seq      uint64
	changed  chan struct{}
	subs     map[int]func(Record)
	nextSub  int
}

func newPreview(pid id.PreviewID, historyLimit int) *Preview {
	now := time.Now()
	return &Preview{
		id:      pid,
		created: now,
		updated: now,
		limit:   historyLimit,
		state:   StateStarting,
		changed: make(chan struct{}),
		subs:    make(map[int]func(Record)),
	}
}

// ID returns the preview ID
func (p *Preview) ID() id.PreviewID { return p.id }

// Handle returns the controller handle
func (p *Preview) Handle() *controller.Handle { return p.handle }

// ReplaceFiles replaces the project
func (p *Preview) ReplaceFiles(ctx context.Context, files []vfs.SourceFile, entry string) error {
	return p.handle.ReplaceFiles(ctx, files, entry)
}

// PatchFile updates one file
func (p *Preview) PatchFile(ctx context.Context, file vfs.SourceFile) error {
	return p.handle.PatchFile(ctx, file)
}

// Navigate loads route in the sandbox
func (p *Preview) Navigate(ctx context.Context, route string) error {
	return p.handle.Navigate(ctx, route)
}

// SetOverlay configures the error overlay
func (p *Preview) SetOverlay(ctx context.Context, setup protocol.ErrorOverlaySetup) error {
	return p.handle.SetOverlay(ctx, setup)
}

// Status returns the current status
func (p *Preview) Status() Status {
	p.mu.Lock()
	s := Status{
		ID:        p.id,
		State:     p.state,
		Builds:    p.builds,
		Error:     p.lastErr,
		Warnings:  append([]string(nil), p.warnings...),
		CreatedAt: p.created,
		UpdatedAt: p.updated,
	}
	p.mu.Unlock()

	s.Route = p.handle.Route()
	s.Entry = p.handle.Entry()
	s.FileCount = len(p.handle.Files())
	if r := p.handle.Instance().Runner; r != nil {
		if d, ok := r.Diagnostic(); ok {
			s.Diagnostic = &d
		}
	}
	return s
}

// Document returns the rendered document. Remote previews have none.
func (p *Preview) Document() (Snapshot, error) {
	inst := p.handle.Instance()
	if inst.Window == nil || inst.Runner == nil {
		return Snapshot{}, ErrNoDocument
	}
	doc := inst.Window.Document()
	return Snapshot{
		HTML:        doc.HTML(),
		Fingerprint: inst.Runner.Installed().Fingerprint,
		Overlay:     doc.Overlay() != "",
	}, nil
}

// History returns the recorded events with a sequence number above after
func (p *Preview) History(after uint64) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.history))
	for _, r := range p.history {
		if r.Seq > after {
			out = append(out, r)
		}
	}
	return out
}

// Subscribe calls fn for every new event until unsubscribe is called.
// fn runs on the controller goroutine and must not block.
func (p *Preview) Subscribe(fn func(Record)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.nextSub
	p.nextSub++
	p.subs[key] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, key)
	}
}

// AwaitBuild blocks until more than after builds have completed and
// returns the resulting status
func (p *Preview) AwaitBuild(ctx context.Context, after uint64) (Status, error) {
	for {
		p.mu.Lock()
		builds, changed := p.builds, p.changed
		p.mu.Unlock()
		if builds > after {
			return p.Status(), nil
		}
		select {
		case <-ctx.Done():
			return p.Status(), ctx.Err()
		case <-changed:
		}
	}
}

// Builds returns the number of completed builds
func (p *Preview) Builds() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds
}

func (p *Preview) record(ev controller.Event) {
	p.mu.Lock()
	now := time.Now()
	p.updated = now
	switch e := ev.(type) {
	case controller.SandboxReady:
		if p.state == StateStarting {
			p.state = StateReady
		}
	case controller.BuildSucceeded:
		p.state = StateBuilt
		p.lastErr = ""
		p.warnings = append([]string(nil), e.Warnings...)
		p.completeBuild()
	case controller.BuildFailed:
		p.state = StateFailed
		p.lastErr = e.Message
		p.warnings = nil
		p.completeBuild()
	}

	p.seq++
	rec := Record{Seq: p.seq, Time: now, Name: ev.EventName(), Event: ev}
	p.history = append(p.history, rec)
	if over := len(p.history) - p.limit; p.limit > 0 && over > 0 {
		p.history = append([]Record(nil), p.history[over:]...)
	}
	subs := make([]func(Record), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// completeBuild wakes AwaitBuild callers. Must hold mu.
func (p *Preview) completeBuild() {
	p.builds++
	close(p.changed)
	p.changed = make(chan struct{})
}
