package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/shared/id"
)

// TraceID identifies one request across components
type TraceID string

// SpanID identifies one operation within a trace
type SpanID string

// Span is a timed operation
type Span struct {
	TraceID   TraceID
	SpanID    SpanID
	ParentID  SpanID
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Status    int
	Err       error

	mu   sync.Mutex
	tags map[string]string
}

// Tracer logs finished spans. Spans are handed to a single collector
// goroutine; when its buffer is full they are dropped.
type Tracer struct {
	service string
	logger  *zap.Logger
	slow    time.Duration
	spans   chan *Span

	mu     sync.RWMutex
	closed bool
}

// Options configures a Tracer
type Options struct {
	// Slow spans are logged at warn level; others at debug
	Slow   time.Duration
	Buffer int
}

// New starts a tracer
func New(service string, logger *zap.Logger, opts Options) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Slow <= 0 {
		opts.Slow = 2 * time.Second
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		slow:    opts.Slow,
		spans:   make(chan *Span, opts.Buffer),
	}
	go t.collect()
	return t
}

// StartSpan starts a span as a child of the span in ctx, if any
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.Default().GenerateString()),
		ParentID:  SpanIDFrom(ctx),
		Name:      name,
		StartTime: time.Now(),
		tags:      make(map[string]string),
	}
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// SetTag records a key/value on the span
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

// Tags returns a copy of the span tags
func (s *Span) Tags() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// End finishes the span and submits it
func (t *Tracer) End(s *Span, err error) {
	s.Duration = time.Since(s.StartTime)
	s.Err = err
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- s:
	default:
		t.logger.Warn("Span buffer full, dropping span", zap.String("trace_id", string(s.TraceID)))
	}
}

// Close stops the collector after draining buffered spans
func (t *Tracer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.spans)
	}
}

func (t *Tracer) collect() {
	for s := range t.spans {
		t.log(s)
	}
}

func (t *Tracer) log(s *Span) {
	fields := []zap.Field{
		zap.String("service", t.service),
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.String("operation", s.Name),
		zap.Duration("duration", s.Duration),
	}
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	if s.Status != 0 {
		fields = append(fields, zap.Int("status", s.Status))
	}
	for k, v := range s.Tags() {
		fields = append(fields, zap.String(k, v))
	}

	switch {
	case s.Err != nil:
		t.logger.Error("Span failed", append(fields, zap.Error(s.Err))...)
	case s.Duration >= t.slow:
		t.logger.Warn("Slow span", fields...)
	default:
		t.logger.Debug("Span completed", fields...)
	}
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDFrom returns the trace ID carried by ctx
func TraceIDFrom(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceIDKey).(TraceID)
	return v
}

// SpanIDFrom returns the current span ID carried by ctx
func SpanIDFrom(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanIDKey).(SpanID)
	return v
}

// WithTraceID returns ctx carrying an externally supplied trace ID
func WithTraceID(ctx context.Context, traceID TraceID) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}
