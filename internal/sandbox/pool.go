package sandbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool keeps pre-warmed windows so new previews start without paying for
// VM setup
type Pool struct {
	config  Config
	opts    []Option
	windows chan *Window
	size    int
	wait    time.Duration
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// PoolStats reports pool occupancy
type PoolStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"in_use"`
	Closed    bool `json:"closed"`
}

// NewPool creates a window pool. opts are applied to every window.
func NewPool(config Config, size int, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &Pool{
		config:  config,
		opts:    opts,
		windows: make(chan *Window, size),
		size:    size,
		wait:    5 * time.Second,
		logger:  logger,
	}

	// Pre-create windows
	for i := 0; i < size; i++ {
		w, err := NewWindow(config, opts...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.windows <- w
	}

	return pool, nil
}

// Acquire takes a fresh window from the pool. The caller owns it and hands
// it back with Release.
func (p *Pool) Acquire(ctx context.Context) (*Window, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.mu.RUnlock()

	select {
	case w, ok := <-p.windows:
		if !ok {
			return nil, ErrPoolClosed
		}
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.wait):
		return nil, ErrTimeout
	}
}

// Release closes a window that is no longer needed and refills the pool in
// the background. Windows are never reused: each preview gets a clean
// global scope.
func (p *Pool) Release(w *Window) error {
	err := w.Close()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fresh, nerr := NewWindow(p.config, p.opts...)
		if nerr != nil {
			p.logger.Error("Failed to refill window pool", zap.Error(nerr))
			return
		}
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			_ = fresh.Close()
			return
		}
		select {
		case p.windows <- fresh:
		default:
			// Pool full, close window
			_ = fresh.Close()
		}
	}()
	return err
}

// Close closes pool and all idle windows
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.windows)
	p.mu.Unlock()

	p.wg.Wait()
	for w := range p.windows {
		_ = w.Close()
	}
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:      p.size,
		Available: len(p.windows),
		InUse:     p.size - len(p.windows),
		Closed:    p.closed,
	}
}
