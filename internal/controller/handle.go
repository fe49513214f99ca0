package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/routing"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

var (
	ErrDestroyed  = errors.New("preview destroyed")
	ErrEmptyRoute = errors.New("route must not be empty")

	// ErrInvalidRoute is returned for routes that are not absolute paths
	ErrInvalidRoute = errors.New("route must start with /")
)

// Options configures a Handle
type Options struct {
	Files []vfs.SourceFile
	Entry string

	OnBuildSucceeded  func(BuildSucceeded)
	OnBuildFailed     func(BuildFailed)
	OnReady           func()
	OnLocationChanged func(LocationChanged)

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Handle controls one sandbox
type Handle struct {
	inst    *Instance
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// sendMu orders snapshots of the mirrored state with their delivery
	sendMu sync.Mutex

	mu             sync.Mutex
	files          []vfs.SourceFile
	entry          string
	route          string
	ready          bool
	destroyed      bool
	pendingFiles   bool
	pendingOverlay *protocol.ErrorOverlaySetup
	subs           map[int]func(Event)
	nextSub        int

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	destroy sync.Once
}

// Init launches a sandbox and starts listening to it. A non-empty initial
// file set is sent as soon as the sandbox is ready.
func Init(ctx context.Context, launcher Launcher, opts Options) (*Handle, error) {
	inst, err := launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handle{
		inst:    inst,
		opts:    opts,
		logger:  logger.With(zap.String("sandbox", inst.Sandbox)),
		metrics: opts.Metrics,
		files:   vfs.Sanitize(opts.Files),
		entry:   opts.Entry,
		route:   routing.DefaultRoute,
		subs:    make(map[int]func(Event)),
		done:    make(chan struct{}),
	}
	h.ctx, h.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if len(h.files) > 0 {
		h.pendingFiles = true
	}

	go h.listen()
	return h, nil
}

// ============================================================================
// Commands
// ============================================================================

// ReplaceFiles replaces the whole project. An empty entry keeps the one
// given at Init.
func (h *Handle) ReplaceFiles(ctx context.Context, files []vfs.SourceFile, entry string) error {
	if entry == "" {
		entry = h.opts.Entry
	}
	return h.update(ctx, func() {
		h.files = vfs.Sanitize(files)
		h.entry = entry
	})
}

// PatchFile replaces or adds a single file and rebuilds
func (h *Handle) PatchFile(ctx context.Context, file vfs.SourceFile) error {
	return h.update(ctx, func() {
		h.files = vfs.Sanitize(vfs.Patch(h.files, file))
	})
}

// update applies change to the mirrored project and sends it, or keeps it
// pending until the sandbox is ready
func (h *Handle) update(ctx context.Context, change func()) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrDestroyed
	}
	change()
	if !h.ready {
		h.pendingFiles = true
		h.mu.Unlock()
		h.logger.Debug("Sandbox not ready, files update pending")
		return nil
	}
	msg := h.filesUpdateLocked()
	h.mu.Unlock()

	return h.send(ctx, msg)
}

// Navigate asks the sandbox to go to route. Before the sandbox is ready the
// route is only recorded and restored by the next build.
func (h *Handle) Navigate(ctx context.Context, route string) error {
	if route == "" {
		return ErrEmptyRoute
	}
	if !strings.HasPrefix(route, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidRoute, route)
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrDestroyed
	}
	h.route = route
	ready := h.ready
	h.mu.Unlock()

	if !ready {
		return nil
	}
	return h.send(ctx, protocol.LoadRoute{Route: route})
}

// SetOverlay configures which failures the sandbox displays
func (h *Handle) SetOverlay(ctx context.Context, setup protocol.ErrorOverlaySetup) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrDestroyed
	}
	if !h.ready {
		h.pendingOverlay = &setup
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	return h.send(ctx, setup)
}

// Destroy stops listening and tears the sandbox down
func (h *Handle) Destroy() error {
	err := ErrDestroyed
	h.destroy.Do(func() {
		h.mu.Lock()
		h.destroyed = true
		h.ready = false
		h.pendingFiles = false
		h.pendingOverlay = nil
		h.subs = make(map[int]func(Event))
		h.mu.Unlock()

		h.cancel()
		err = h.inst.Close()
		<-h.done
		h.logger.Debug("Preview destroyed")
	})
	return err
}

// ============================================================================
// State
// ============================================================================

// Route returns the last route the sandbox reported or the host requested
func (h *Handle) Route() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.route
}

// Ready reports whether the sandbox announced itself
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Files returns a copy of the mirrored project
func (h *Handle) Files() []vfs.SourceFile {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]vfs.SourceFile(nil), h.files...)
}

// Entry returns the explicit entry sent with builds
func (h *Handle) Entry() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry
}

// Instance returns the launched sandbox
func (h *Handle) Instance() *Instance { return h.inst }

// Subscribe registers fn for every event until unsubscribe is called
func (h *Handle) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := h.nextSub
	h.nextSub++
	h.subs[key] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, key)
	}
}

// ============================================================================
// Inbound
// ============================================================================

func (h *Handle) listen() {
	defer close(h.done)
	inbound := h.inst.Port.Receive()
	for {
		select {
		case <-h.ctx.Done():
			return
		case env, ok := <-inbound:
			if !ok {
				h.logger.Debug("Sandbox channel closed")
				return
			}
			h.handle(env)
		}
	}
}

func (h *Handle) handle(env protocol.Envelope) {
	if env.Source != h.inst.Sandbox {
		h.metrics.RecordProtocolDrop("origin")
		h.logger.Debug("Dropped message from unknown source", zap.String("source", env.Source))
		return
	}
	msg, err := protocol.DecodeToController(env.Data)
	if err != nil {
		h.metrics.RecordProtocolDrop("invalid")
		h.logger.Debug("Dropped invalid message", zap.Error(err))
		return
	}
	h.metrics.RecordProtocolMessage("in", string(msg.MessageType()))

	switch m := msg.(type) {
	case protocol.SandboxReady:
		h.onReady()
	case protocol.BuildResult:
		if m.Success {
			ev := BuildSucceeded{FileCount: m.FileCount, Warnings: m.Warnings}
			if h.opts.OnBuildSucceeded != nil {
				h.opts.OnBuildSucceeded(ev)
			}
			h.emit(ev)
			return
		}
		ev := BuildFailed{FileCount: m.FileCount, Message: m.Error}
		if h.opts.OnBuildFailed != nil {
			h.opts.OnBuildFailed(ev)
		}
		h.emit(ev)
	case protocol.RouteChanged:
		h.mu.Lock()
		h.route = m.NewRoute
		h.mu.Unlock()
		ev := LocationChanged{Route: m.NewRoute}
		if h.opts.OnLocationChanged != nil {
			h.opts.OnLocationChanged(ev)
		}
		h.emit(ev)
	}
}

// onReady marks the sandbox ready and flushes pending input exactly once
func (h *Handle) onReady() {
	h.sendMu.Lock()
	h.mu.Lock()
	if h.ready || h.destroyed {
		h.mu.Unlock()
		h.sendMu.Unlock()
		h.logger.Debug("Ignored repeated sandbox-ready")
		return
	}
	h.ready = true
	overlay := h.pendingOverlay
	h.pendingOverlay = nil
	var files *protocol.FilesUpdate
	if h.pendingFiles {
		msg := h.filesUpdateLocked()
		files = &msg
		h.pendingFiles = false
	}
	h.mu.Unlock()

	if overlay != nil {
		if err := h.send(h.ctx, *overlay); err != nil {
			h.logger.Warn("Failed to flush overlay setup", zap.Error(err))
		}
	}
	if files != nil {
		if err := h.send(h.ctx, *files); err != nil {
			h.logger.Warn("Failed to flush pending files", zap.Error(err))
		}
	}
	h.sendMu.Unlock()

	h.logger.Info("Sandbox ready")
	if h.opts.OnReady != nil {
		h.opts.OnReady()
	}
	h.emit(SandboxReady{})
}

func (h *Handle) filesUpdateLocked() protocol.FilesUpdate {
	return protocol.FilesUpdate{
		Files:        append([]vfs.SourceFile(nil), h.files...),
		Entry:        h.entry,
		InitialRoute: h.route,
	}
}

func (h *Handle) emit(ev Event) {
	h.mu.Lock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *Handle) send(ctx context.Context, msg protocol.ToSandbox) error {
	if err := protocol.Send(ctx, h.inst.Port, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.MessageType(), err)
	}
	h.metrics.RecordProtocolMessage("out", string(msg.MessageType()))
	return nil
}
