package modules

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vvanghelue/surfpack/internal/infrastructure/monitoring"
	"github.com/vvanghelue/surfpack/internal/infrastructure/resilience"
)

// Options configures a Fetcher
type Options struct {
	Timeout time.Duration
	// Retries is the number of extra attempts after a 5xx or transport error
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is in requests per second; zero means unlimited
	RateLimit float64
	// CacheSize is the number of modules kept in memory; negative disables caching
	CacheSize int
	// MaxBytes rejects larger modules
	MaxBytes  int
	UserAgent string
	Breaker   resilience.Settings

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns the settings used for public CDNs
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		Retries:      3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		CacheSize:    512,
		MaxBytes:     16 << 20,
		UserAgent:    "surfpack-modules/1.0",
		Breaker: resilience.Settings{
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 10 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		},
	}
}

// Fetcher downloads module sources. It implements sandbox.Fetcher and is
// safe for concurrent use.
type Fetcher struct {
	client   *resty.Client
	limiter  *rate.Limiter
	hosts    *resilience.Group
	cache    *cache
	flight   singleflight.Group
	maxBytes int
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewFetcher creates a fetcher. Zero fields of opts, except Retries, take
// the values of DefaultOptions.
func NewFetcher(opts Options) *Fetcher {
	opts = withDefaults(opts)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/javascript, text/javascript, */*;q=0.8")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	breaker := opts.Breaker
	breaker.IsSuccessful = func(err error) bool {
		return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
	}
	breaker.OnStateChange = func(host string, from, to resilience.State) {
		logger.Warn("Module host circuit changed",
			zap.String("host", host),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}

	cacheSize := opts.CacheSize
	if cacheSize < 0 {
		cacheSize = 0
	}

	return &Fetcher{
		client:   client,
		limiter:  limiter,
		hosts:    resilience.NewGroup(breaker),
		cache:    newCache(cacheSize),
		maxBytes: opts.MaxBytes,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = def.RetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = max(def.RetryWaitMax, opts.RetryWaitMin)
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.Breaker.ReadyToTrip == nil {
		opts.Breaker = def.Breaker
	}
	return opts
}

// Fetch returns the source at rawURL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if src, ok := f.cache.get(rawURL); ok {
		f.metrics.RecordFetch("hit", 0)
		return src, nil
	}

	v, err, shared := f.flight.Do(rawURL, func() (interface{}, error) {
		return f.download(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		f.logger.Debug("Shared module download", zap.String("url", rawURL))
	}
	return v.([]byte), nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: rawURL, Err: ErrUnsupportedScheme}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("rate limit: %w", err)}
	}

	start := time.Now()
	src, err := resilience.Do(f.hosts.Get(u.Host), func() ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		if !resp.IsSuccess() {
			return nil, &FetchError{URL: rawURL, Status: resp.StatusCode()}
		}
		if len(resp.Body()) > f.maxBytes {
			return nil, &FetchError{URL: rawURL, Status: resp.StatusCode(), Err: ErrTooLarge}
		}
		return resp.Body(), nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			f.metrics.RecordFetch("rejected", elapsed)
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		status := "error"
		if IsNotFound(err) {
			status = "not_found"
		}
		f.metrics.RecordFetch(status, elapsed)
		return nil, err
	}

	f.metrics.RecordFetch("ok", elapsed)
	f.cache.put(rawURL, src)
	return src, nil
}

// Hosts reports the circuit state of every host contacted so far
func (f *Fetcher) Hosts() map[string]resilience.State {
	return f.hosts.States()
}

// Cached returns the number of modules held in memory
func (f *Fetcher) Cached() int { return f.cache.len() }

// Purge drops every cached module
func (f *Fetcher) Purge() { f.cache.clear() }
