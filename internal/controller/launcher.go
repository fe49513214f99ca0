package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/protocol"
	"github.com/vvanghelue/surfpack/internal/runner"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/shared/id"
)

// Instance is a launched sandbox as seen from the controller
type Instance struct {
	// Port is the controller end of the channel
	Port protocol.Port
	// Sandbox is the only source the controller accepts messages from
	Sandbox string
	// Runner and Window are set for in-process sandboxes
	Runner *runner.Runner
	Window *sandbox.Window

	close func() error
}

// Close tears the sandbox down
func (i *Instance) Close() error {
	if i.close == nil {
		return i.Port.Close()
	}
	return i.close()
}

// Launcher creates sandbox instances
type Launcher interface {
	Launch(ctx context.Context) (*Instance, error)
}

// ============================================================================
// In-process
// ============================================================================

// InProcessLauncher runs the sandbox in this process. Windows come from
// Pool when set, otherwise they are created from Config.
type InProcessLauncher struct {
	Config sandbox.Config
	// WindowOptions apply to windows created from Config
	WindowOptions []sandbox.Option
	Pool          *sandbox.Pool
	Runner        runner.Options
	Logger        *zap.Logger
}

// Launch implements Launcher
func (l *InProcessLauncher) Launch(ctx context.Context) (*Instance, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := l.window(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sandbox window: %w", err)
	}

	controllerID, sandboxID := id.NewPortID().String(), id.NewPortID().String()
	controllerPort, sandboxPort := protocol.NewPipe(controllerID, sandboxID)

	opts := l.Runner
	opts.Parent = controllerID
	if opts.Logger == nil {
		opts.Logger = logger
	}
	r := runner.New(w, sandboxPort, opts)

	release := func() error {
		r.Close()
		_ = sandboxPort.Close()
		_ = controllerPort.Close()
		if l.Pool != nil {
			return l.Pool.Release(w)
		}
		return w.Close()
	}

	// The runner outlives the launch request
	if err := r.Start(context.WithoutCancel(ctx)); err != nil {
		_ = release()
		return nil, fmt.Errorf("start sandbox runner: %w", err)
	}

	logger.Debug("Launched in-process sandbox",
		zap.String("controller", controllerID),
		zap.String("sandbox", sandboxID))
	return &Instance{
		Port:    controllerPort,
		Sandbox: sandboxID,
		Runner:  r,
		Window:  w,
		close:   release,
	}, nil
}

func (l *InProcessLauncher) window(ctx context.Context) (*sandbox.Window, error) {
	if l.Pool != nil {
		return l.Pool.Acquire(ctx)
	}
	cfg := l.Config
	if cfg == (sandbox.Config{}) {
		cfg = sandbox.DefaultConfig()
	}
	opts := append([]sandbox.Option{sandbox.WithLogger(l.Logger)}, l.WindowOptions...)
	return sandbox.NewWindow(cfg, opts...)
}

// ============================================================================
// Remote
// ============================================================================

// RemoteSandboxID is the peer name a remote sandbox is known by. A
// websocket has a single remote end, so its envelopes always carry it.
const RemoteSandboxID = "sandbox"

// RemoteLauncher dials a sandbox served at URL (ws:// or wss://)
type RemoteLauncher struct {
	URL    string
	Logger *zap.Logger
}

// Launch implements Launcher
func (l *RemoteLauncher) Launch(ctx context.Context) (*Instance, error) {
	port, err := protocol.DialWebSocket(ctx, l.URL, id.NewPortID().String(), RemoteSandboxID, l.Logger)
	if err != nil {
		return nil, fmt.Errorf("dial sandbox %s: %w", l.URL, err)
	}
	return &Instance{Port: port, Sandbox: port.Peer()}, nil
}
