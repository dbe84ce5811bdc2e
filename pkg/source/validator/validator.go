// Package validator probes a candidate source URL and scores its
// reliability, without mutating persistent state directly — it emits a
// SourceHealth record for the orchestrator to apply.
package validator

import (
	"context"
	"regexp"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vpnagg/aggregator/pkg/fetcher"
	"github.com/vpnagg/aggregator/pkg/protocol"
)

const defaultTimeout = 12 * time.Second

var protocolPrefixRe = regexp.MustCompile(`(?im)^(vmess|vless|reality|ssr?|trojan|hy2|hysteria2?|tuic|shadowtls|juicity|naive|brook|wireguard|wg|socks5|socks4|socks|http|https)://`)

// SourceHealth is the outcome of probing one source URL.
type SourceHealth struct {
	URL              string
	Accessible       bool
	ResponseTimeS    float64
	EstimatedConfigs int
	ProtocolsFound   mapset.Set[string]
	ReliabilityScore float64
}

// Validator probes sources through the shared Fetcher.
type Validator struct {
	fetcher *fetcher.Fetcher
	// history is a bounded ring of recent success/failure per URL, used for
	// the historical-success-rate component of the reliability score.
	history map[string][]bool
}

func New(f *fetcher.Fetcher) *Validator {
	return &Validator{fetcher: f, history: make(map[string][]bool)}
}

// Validate fetches url through the shared Fetcher (which retries failed
// attempts under its own policy) and computes its SourceHealth.
func (v *Validator) Validate(ctx context.Context, url string) (*SourceHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	body, err := v.fetcher.Fetch(ctx, url)
	elapsed := time.Since(start).Seconds()

	health := &SourceHealth{
		URL:            url,
		ProtocolsFound: mapset.NewThreadUnsafeSet[string](),
	}

	accessible := err == nil
	v.recordHistory(url, accessible)

	if !accessible {
		health.ReliabilityScore = 0
		return health, nil
	}

	health.Accessible = true
	health.ResponseTimeS = elapsed

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := protocolPrefixRe.FindStringSubmatch(line); m != nil {
			health.EstimatedConfigs++
			health.ProtocolsFound.Add(strings.ToLower(m[1]))
		}
	}

	health.ReliabilityScore = v.score(url, health)
	return health, nil
}

func (v *Validator) score(url string, h *SourceHealth) float64 {
	score := 0.3 // base for accessible

	// Latency component: up to 0.2, faster is better, linear falloff to 5s.
	latencyScore := 0.2 * clamp(1-(h.ResponseTimeS/5.0), 0, 1)
	score += latencyScore

	// Config-count component: up to 0.3 across thresholds 100/500/1000.
	switch {
	case h.EstimatedConfigs >= 1000:
		score += 0.3
	case h.EstimatedConfigs >= 500:
		score += 0.2
	case h.EstimatedConfigs >= 100:
		score += 0.1
	}

	// Protocol diversity: up to 0.1.
	switch {
	case h.ProtocolsFound.Cardinality() >= 3:
		score += 0.1
	case h.ProtocolsFound.Cardinality() >= 2:
		score += 0.05
	}

	// Historical success rate over last 10 checks: up to 0.1.
	score += 0.1 * v.historicalSuccessRate(url)

	lowerURL := strings.ToLower(url)
	if strings.Contains(lowerURL, "official") || strings.Contains(lowerURL, "main") {
		score += 0.05
	}
	if strings.Contains(lowerURL, "temp") || strings.Contains(lowerURL, "test") || strings.Contains(lowerURL, "dev") {
		score -= 0.1
	}

	return clamp(score, 0, 1)
}

func (v *Validator) recordHistory(url string, success bool) {
	h := v.history[url]
	h = append(h, success)
	if len(h) > 10 {
		h = h[len(h)-10:]
	}
	v.history[url] = h
}

func (v *Validator) historicalSuccessRate(url string) float64 {
	h := v.history[url]
	if len(h) == 0 {
		return 0
	}
	successes := 0
	for _, ok := range h {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(h))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsValidConfigLine mirrors the source validation's loose pre-filter so
// callers can cheaply skip non-config lines before invoking the full
// protocol parser.
func IsValidConfigLine(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 10 {
		return false
	}
	return protocol.IsValidConfig(line)
}
