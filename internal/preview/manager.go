package preview

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/controller"
	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/shared/id"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// DefaultHistoryLimit bounds the events kept per preview
const DefaultHistoryLimit = 256

// Options configures a Manager
type Options struct {
	// MaxPreviews caps live previews; zero means unlimited
	MaxPreviews  int
	HistoryLimit int
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// CreateRequest describes a new preview
type CreateRequest struct {
	Files   []vfs.SourceFile
	Entry   string
	Route   string
	Overlay *protocol.ErrorOverlaySetup
}

// Manager owns the live previews
type Manager struct {
	launcher controller.Launcher
	opts     Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	previews sync.Map
	count    atomic.Int64
}

// NewManager creates a manager launching sandboxes with launcher
func NewManager(launcher controller.Launcher, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Manager{
		launcher: launcher,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Create launches a preview. The first build starts as soon as the sandbox
// announces itself.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Preview, error) {
	if limit := m.opts.MaxPreviews; limit > 0 && m.count.Load() >= int64(limit) {
		return nil, ErrTooMany
	}

	pid := id.NewPreviewID()
	p := newPreview(pid, m.opts.HistoryLimit)
	logger := m.logger.With(zap.String("preview", pid.String()))

	handle, err := controller.Init(ctx, m.launcher, controller.Options{
		Files:             req.Files,
		Entry:             req.Entry,
		OnReady:           func() { p.record(controller.SandboxReady{}) },
		OnBuildSucceeded:  func(e controller.BuildSucceeded) { p.record(e) },
		OnBuildFailed:     func(e controller.BuildFailed) { p.record(e) },
		OnLocationChanged: func(e controller.LocationChanged) { p.record(e) },
		Logger:            logger,
		Metrics:           m.metrics,
	})
	if err != nil {
		return nil, err
	}
	p.handle = handle

	if req.Route != "" {
		if err := handle.Navigate(ctx, req.Route); err != nil {
			_ = handle.Destroy()
			return nil, err
		}
	}
	if req.Overlay != nil {
		if err := handle.SetOverlay(ctx, *req.Overlay); err != nil {
			_ = handle.Destroy()
			return nil, err
		}
	}

	m.previews.Store(pid, p)
	active := m.count.Add(1)
	m.metrics.IncPreviewsTotal()
	m.metrics.SetPreviewsActive(int(active))
	logger.Info("Preview created", zap.Int("files", len(req.Files)))
	return p, nil
}

// Get returns a live preview
func (m *Manager) Get(pid id.PreviewID) (*Preview, error) {
	v, ok := m.previews.Load(pid)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Preview), nil
}

// Lookup parses raw and returns the preview
func (m *Manager) Lookup(raw string) (*Preview, error) {
	if !id.ValidPreviewID(raw) {
		return nil, ErrSessionNotFound
	}
	return m.Get(id.PreviewID(raw))
}

// List returns the status of every preview, oldest first
func (m *Manager) List() []Status {
	var out []Status
	m.previews.Range(func(_, v any) bool {
		out = append(out, v.(*Preview).Status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live previews
func (m *Manager) Count() int { return int(m.count.Load()) }

// Destroy tears a preview down
func (m *Manager) Destroy(pid id.PreviewID) error {
	v, ok := m.previews.LoadAndDelete(pid)
	if !ok {
		return ErrSessionNotFound
	}
	active := m.count.Add(-1)
	m.metrics.SetPreviewsActive(int(active))

	err := v.(*Preview).handle.Destroy()
	if errors.Is(err, controller.ErrDestroyed) {
		err = nil
	}
	m.logger.Info("Preview destroyed", zap.String("preview", pid.String()))
	return err
}

// Close destroys every preview
func (m *Manager) Close() error {
	var errs []error
	m.previews.Range(func(k, _ any) bool {
		if err := m.Destroy(k.(id.PreviewID)); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
