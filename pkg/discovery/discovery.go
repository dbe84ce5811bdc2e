// Package discovery finds candidate subscription source URLs: a static
// seed list on disk, GitHub code search, and exported Telegram channel
// text files. Discovered sources are scored and ranked, never fetched
// here — validation and fetching are separate pipeline stages.
package discovery

import (
	"sort"
	"strings"
	"time"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

// Method identifies how a source was found.
type Method string

const (
	MethodSeed     Method = "seed"
	MethodGithub   Method = "github"
	MethodTelegram Method = "telegram"
)

// Discovered is a candidate source awaiting validation.
type Discovered struct {
	URL            string
	Method         Method
	RepoFullName   string
	Stars          int
	Forks          int
	Language       string
	Topics         []string
	UpdatedAt      time.Time
	DiscoveryScore float64
}

var vpnKeywords = []string{
	"v2ray", "vmess", "vless", "trojan", "shadowsocks", "ss", "ssr",
	"hysteria", "hysteria2", "tuic", "reality", "clash", "sing-box",
	"vpn", "proxy", "subscription", "config", "node", "server",
}

var subscriptionIndicators = []string{
	"sub", "subscribe", "config", "node", "server", "proxy",
	"v2ray", "clash", "singbox", "hysteria", "reality",
}

// isSubscriptionPath reports whether a repository file path looks like a
// subscription list rather than unrelated source code.
func isSubscriptionPath(path string) bool {
	lower := strings.ToLower(path)
	for _, ind := range subscriptionIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// score applies the same heuristic the ranking stage of the original
// discovery tool used: repository signals (stars, forks, recency,
// language, topics), URL keyword bonuses/penalties, and a flat bonus for
// API-sourced, GitHub-hosted candidates.
func score(d Discovered, now time.Time) float64 {
	s := 0.0

	if d.Method == MethodGithub {
		s += clampScore(float64(d.Stars)/100, 0, 10)

		if !d.UpdatedAt.IsZero() {
			age := now.Sub(d.UpdatedAt)
			switch {
			case age < 7*24*time.Hour:
				s += 5
			case age < 30*24*time.Hour:
				s += 3
			case age < 90*24*time.Hour:
				s += 1
			}
		}

		s += clampScore(float64(d.Forks)/10, 0, 5)

		switch d.Language {
		case "Python", "Go", "JavaScript", "TypeScript":
			s += 2
		}

		topicScore := 0.0
		for _, topic := range d.Topics {
			lower := strings.ToLower(topic)
			for _, kw := range vpnKeywords {
				if strings.Contains(lower, kw) {
					topicScore += 2
					break
				}
			}
		}
		s += clampScore(topicScore, 0, 5)

		s += 2 // github source bonus
		s += 1 // api discovery method bonus
	}

	lower := strings.ToLower(d.URL)
	if containsAny(lower, "official", "verified", "trusted", "main", "master") {
		s += 3
	}
	if containsAny(lower, "config", "sub", "subscribe") {
		s += 2
	}
	if containsAny(lower, "temp", "test", "backup", "old", "dev", "beta") {
		s -= 5
	}

	if s < 0 {
		s = 0
	}
	return s
}

func clampScore(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Rank scores and sorts candidates by descending discovery score,
// deduplicating by URL (first occurrence wins).
func Rank(candidates []Discovered, now time.Time) []Discovered {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Discovered, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		c.DiscoveryScore = score(c, now)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DiscoveryScore > out[j].DiscoveryScore
	})
	return out
}

// errNoGithubToken is returned by GithubSearchClient.Search when no token is
// configured; callers treat this as a soft skip, not a pipeline failure.
var errNoGithubToken = xerrors.New(xerrors.KindConfig, "no GitHub token configured, skipping code search", nil)
