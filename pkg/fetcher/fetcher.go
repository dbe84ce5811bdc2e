// Package fetcher fetches a URL's text body under strict reliability
// budgets: per-host rate limiting, per-host circuit breaking, jittered
// exponential backoff retries, and a response size cap.
package fetcher

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/xerrors"
)

const (
	defaultRetries          = 3
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = 8 * time.Second
	defaultTimeout          = 12 * time.Second
	defaultRateLimit        = 5.0
	defaultRateBurst        = 10
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
	defaultSourceBodyCap    = 2 * 1024 * 1024
	defaultDecodeBodyCap    = 256 * 1024

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	acceptHdr = "text/plain,text/yaml,application/yaml,application/json,*/*"
)

// Config tunes the Fetcher's retry/rate-limit/breaker policy.
type Config struct {
	Timeout          time.Duration
	Retries          int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RateLimit        float64
	RateBurst        int
	FailureThreshold int
	Cooldown         time.Duration
	MaxBodyBytes     int64
	Proxy            string
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Retries == 0 {
		c.Retries = defaultRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = defaultRateBurst
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = defaultCooldown
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaultSourceBodyCap
	}
	return c
}

// Fetcher performs rate-limited, retrying, circuit-broken HTTP GET.
type Fetcher struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*breaker
}

// New builds a Fetcher. An optional proxy URL is applied to the transport.
func New(cfg Config) (*Fetcher, error) {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, xerrors.New(xerrors.KindConfig, "invalid proxy URL", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}

	return &Fetcher{
		cfg:      cfg,
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*breaker),
	}, nil
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RateLimit), f.cfg.RateBurst)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) breakerFor(host string) *breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[host]
	if !ok {
		b = newBreaker(f.cfg.FailureThreshold, f.cfg.Cooldown)
		f.breakers[host] = b
	}
	return b
}

// Fetch fetches targetURL's body as text. It never panics or returns a body
// on a non-2xx response; callers distinguish "no body" from "error" via the
// returned error, which is always a kind-tagged *xerrors.Error when non-nil.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", xerrors.New(xerrors.KindConfig, "invalid URL", err)
	}
	host := u.Hostname()
	b := f.breakerFor(host)

	limiter := f.limiterFor(host)
	if err := limiter.Wait(ctx); err != nil {
		return "", xerrors.New(xerrors.KindCancelled, "rate limiter wait cancelled", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if !b.Allow() {
			return "", xerrors.New(xerrors.KindRateLimited, "circuit breaker open for host "+host, nil)
		}
		if attempt > 0 {
			delay := backoffDelay(f.cfg.BaseDelay, f.cfg.MaxDelay, attempt)
			select {
			case <-ctx.Done():
				return "", xerrors.New(xerrors.KindCancelled, "context cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := f.doOnce(ctx, targetURL)
		if err == nil {
			b.RecordSuccess()
			return body, nil
		}
		lastErr = err
		b.RecordFailure()
		log.Debug("fetch attempt failed", "url", targetURL, "attempt", attempt, "error", err.Error())

		if xerrors.Is(err, xerrors.KindCancelled) {
			return "", err
		}
	}
	return "", lastErr
}

func (f *Fetcher) doOnce(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", xerrors.New(xerrors.KindConfig, "invalid request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHdr)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", xerrors.New(xerrors.KindNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", xerrors.New(xerrors.KindNetwork, "non-2xx response", nil)
	}

	limited := io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", xerrors.New(xerrors.KindNetwork, "failed reading body", err)
	}
	if int64(len(data)) > f.cfg.MaxBodyBytes {
		return "", xerrors.New(xerrors.KindSecurityReject, "body exceeds size cap", nil)
	}
	return string(data), nil
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	return d + jitter
}

// BreakerState exposes the current breaker state for a host, for tests and
// diagnostics.
func (f *Fetcher) BreakerState(host string) string {
	return f.breakerFor(host).State()
}
