// Package tester performs TCP connect and optional TLS handshake probes
// against parsed configs, with a semaphore per protocol bounding
// concurrency, and per-test cancellation deadlines.
package tester

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/pkg/model"
)

const (
	defaultConcurrencyPerProtocol = 50
	defaultTimeout                = 5 * time.Second
	defaultMaxPingMS               = 1000
)

// Config tunes per-protocol concurrency and timeouts.
type Config struct {
	ConcurrencyPerProtocol int
	Timeout                time.Duration
	MaxPingMS              int
	ProtocolTimeouts       map[model.Protocol]time.Duration
	// AppProbes names a fixed set of application-level HTTP GET checks
	// (name -> URL), run once per TestAll call and applied identically to
	// every result: without a real tunnel there is no way to route a probe
	// through any one config, so the suite stands in for "does the network
	// path to this application work at all" rather than a per-node result.
	AppProbes map[string]string
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyPerProtocol == 0 {
		c.ConcurrencyPerProtocol = defaultConcurrencyPerProtocol
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxPingMS == 0 {
		c.MaxPingMS = defaultMaxPingMS
	}
	return c
}

// Tester runs connection probes with a semaphore per protocol.
type Tester struct {
	cfg  Config
	mu   sync.Mutex
	sems map[model.Protocol]*semaphore.Weighted
}

func New(cfg Config) *Tester {
	return &Tester{cfg: cfg.withDefaults(), sems: make(map[model.Protocol]*semaphore.Weighted)}
}

func (t *Tester) semFor(proto model.Protocol) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[proto]
	if !ok {
		s = semaphore.NewWeighted(int64(t.cfg.ConcurrencyPerProtocol))
		t.sems[proto] = s
	}
	return s
}

func (t *Tester) timeoutFor(proto model.Protocol) time.Duration {
	if d, ok := t.cfg.ProtocolTimeouts[proto]; ok {
		return d
	}
	return t.cfg.Timeout
}

// TestAll probes every result concurrently, bounded per protocol, and
// mutates each result's reachability fields in place. There is no ordering
// guarantee between tests; ctx cancellation propagates to all in-flight
// probes.
func (t *Tester) TestAll(ctx context.Context, results []*model.ConfigResult) {
	appResults := t.runAppSuite(ctx)

	var wg sync.WaitGroup
	for _, r := range results {
		r := r
		sem := t.semFor(r.Protocol)
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			t.testOne(ctx, r)
			if len(appResults) > 0 {
				r.AppTestResults = cloneAppResults(appResults)
			}
		}()
	}
	wg.Wait()
}

const appProbeTimeout = 5 * time.Second

// runAppSuite runs every configured application probe once, concurrently,
// and returns name -> reachable. A probe is skipped silently if AppProbes is
// empty, matching the optional nature of this check.
func (t *Tester) runAppSuite(ctx context.Context) map[string]bool {
	if len(t.cfg.AppProbes) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(t.cfg.AppProbes))
	)
	client := &http.Client{Timeout: appProbeTimeout}

	for name, url := range t.cfg.AppProbes {
		name, url := name, url
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := probeURL(ctx, client, url)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func probeURL(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Debug("app probe request build failed", "url", url, "error", err.Error())
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func cloneAppResults(src map[string]bool) map[string]*bool {
	out := make(map[string]*bool, len(src))
	for k, v := range src {
		v := v
		out[k] = &v
	}
	return out
}

func (t *Tester) testOne(ctx context.Context, r *model.ConfigResult) {
	if r.Host == "" || r.Port == 0 {
		r.IsReachable = false
		return
	}

	deadline := t.timeoutFor(r.Protocol)
	testCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	addr := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	start := time.Now()

	var dialer net.Dialer
	conn, err := dialer.DialContext(testCtx, "tcp", addr)
	if err != nil {
		r.IsReachable = false
		r.PingTimeS = nil
		return
	}
	defer conn.Close()

	if r.Protocol.TLSLike() {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: r.Host, InsecureSkipVerify: true})
		tlsConn.SetDeadline(time.Now().Add(deadline))
		handshakeErr := tlsConn.Handshake()
		ok := handshakeErr == nil
		r.HandshakeOK = &ok
	}

	elapsed := time.Since(start).Seconds()
	r.PingTimeS = &elapsed
	r.IsReachable = elapsed*1000 <= float64(t.cfg.MaxPingMS)
}
