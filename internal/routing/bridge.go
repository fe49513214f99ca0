package routing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/sandbox"
)

// DefaultRoute is restored when no route is carried forward
const DefaultRoute = "/"

// ErrEmptyRoute is returned by LoadRoute for an empty route
var ErrEmptyRoute = errors.New("no route provided")

// Host is the navigation surface of a sandbox window
type Host interface {
	// Location returns pathname + search + hash
	Location() string
	WrapNavigation(fn sandbox.Interceptor) (restore func())
	PushState(ctx context.Context, url string) error
	ReplaceState(ctx context.Context, url string) error
	OnPopState(fn func()) (remove func())
	DispatchPopState(ctx context.Context) error
}

// Reporter receives every route change the controller should learn about
type Reporter func(route string)

// Bridge keeps the sandbox location and the controller's mirror in sync.
//
// Host methods that run on the window loop must never be called with mu
// held: the navigation hook and the popstate listener take mu on the loop.
type Bridge struct {
	host   Host
	report Reporter
	logger *zap.Logger

	mu        sync.Mutex
	last      string
	installed bool
	restore   func()
	removePop func()
}

// NewBridge creates a bridge. Nothing is observed until Init.
func NewBridge(host Host, report Reporter, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if report == nil {
		report = func(string) {}
	}
	return &Bridge{host: host, report: report, logger: logger}
}

// Init observes navigation (the first time only), restores initialRoute
// without reporting that write, then reports the resulting location once.
// It runs after every successful install.
func (b *Bridge) Init(ctx context.Context, initialRoute string) error {
	if initialRoute == "" {
		initialRoute = DefaultRoute
	}

	b.mu.Lock()
	if !b.installed {
		b.restore = b.host.WrapNavigation(b.intercept)
		b.removePop = b.host.OnPopState(b.recheck)
		b.installed = true
	}
	b.last = initialRoute
	b.mu.Unlock()

	if err := b.host.ReplaceState(ctx, initialRoute); err != nil {
		b.logger.Error("Failed to restore route", zap.String("route", initialRoute), zap.Error(err))
		return err
	}

	route := b.host.Location()
	b.mu.Lock()
	b.last = route
	b.mu.Unlock()
	b.report(route)
	return nil
}

// LoadRoute applies a controller-issued navigation: push the route, then
// fire popstate so the running app reacts as if the user navigated. The
// route is recorded as last reported first so it is not echoed back.
func (b *Bridge) LoadRoute(ctx context.Context, route string) error {
	if route == "" {
		b.logger.Warn("No route provided in load-route")
		return ErrEmptyRoute
	}

	b.mu.Lock()
	previous := b.last
	b.last = route
	b.mu.Unlock()

	err := b.host.PushState(ctx, route)
	if err == nil {
		err = b.host.DispatchPopState(ctx)
	}
	if err != nil {
		b.logger.Error("Failed to navigate to route", zap.String("route", route), zap.Error(err))
		b.mu.Lock()
		b.last = previous
		b.mu.Unlock()
		return err
	}
	return nil
}

// Route returns the last location known to the controller
func (b *Bridge) Route() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Close restores the original navigation operations and stops listening
func (b *Bridge) Close() {
	b.mu.Lock()
	restore, removePop := b.restore, b.removePop
	b.restore, b.removePop = nil, nil
	b.installed = false
	b.mu.Unlock()

	if restore != nil {
		restore()
	}
	if removePop != nil {
		removePop()
	}
}

// intercept runs on the loop around every pushState and replaceState
func (b *Bridge) intercept(_ sandbox.NavigationKind, _ string, next func() error) error {
	if err := next(); err != nil {
		return err
	}
	b.recheck()
	return nil
}

// recheck reports the current location when it differs from the last one
func (b *Bridge) recheck() {
	route := b.host.Location()

	b.mu.Lock()
	if !b.installed || route == b.last {
		b.mu.Unlock()
		return
	}
	b.last = route
	b.mu.Unlock()

	b.logger.Debug("Route changed", zap.String("route", route))
	b.report(route)
}
