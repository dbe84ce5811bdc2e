// Package scorer scores a raw config line for output ordering. A default
// heuristic implementation rewards secure protocols and well-formed
// payloads; a plug-in implementation defers to an external executable.
package scorer

import (
	"regexp"
	"strings"

	"github.com/vpnagg/aggregator/pkg/model"
)

// QualityScorer is the single-method capability every implementation
// satisfies, so the orchestrator can swap in an ML-backed scorer without
// any other stage changing.
type QualityScorer interface {
	ScoreLine(line string) (float64, error)
}

var uuidRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
var specialCharRe = regexp.MustCompile(`[^\x20-\x7E]`)

var securePrefixes = []string{"vless://", "reality://", "trojan://"}

// Default is the built-in heuristic QualityScorer.
type Default struct{}

func (Default) ScoreLine(line string) (float64, error) {
	score := 0.3
	lower := strings.ToLower(strings.TrimSpace(line))

	for _, p := range securePrefixes {
		if strings.HasPrefix(lower, p) {
			score += 0.25
			break
		}
	}

	if strings.Contains(lower, "security=tls") || strings.Contains(lower, "tls=true") {
		score += 0.15
	}

	if port := extractPortDigits(lower); port == "443" || port == "8443" {
		score += 0.1
	}

	if uuid := extractUUIDCandidate(line); uuid != "" && uuidRe.MatchString(uuid) {
		score += 0.1
	}

	specialCount := len(specialCharRe.FindAllString(line, -1))
	score -= float64(specialCount) * 0.01

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func extractPortDigits(s string) string {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return ""
	}
	rest := s[idx+1:]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	return rest[:end]
}

func extractUUIDCandidate(line string) string {
	// UUIDs in these URIs live in the userinfo segment, e.g. vless://<uuid>@host.
	if idx := strings.Index(line, "://"); idx >= 0 {
		rest := line[idx+3:]
		if at := strings.Index(rest, "@"); at >= 0 {
			return rest[:at]
		}
	}
	return ""
}

// Score ranks a slice of ConfigResult by the scorer's output, highest
// first, and annotates each result's QualityScore in place.
func Score(scorer QualityScorer, results []*model.ConfigResult) []*model.ConfigResult {
	for _, r := range results {
		s, err := scorer.ScoreLine(r.RawConfig)
		if err != nil {
			continue
		}
		score := s
		r.QualityScore = &score
	}

	sorted := make([]*model.ConfigResult, len(results))
	copy(sorted, results)
	stableSortByScoreDesc(sorted)
	return sorted
}

// stableSortByScoreDesc is a small insertion sort: result sets are bounded
// by the discovery/fetch caps (hundreds, not millions), so O(n^2) here never
// dominates the pipeline's wall clock, and stability preserves insertion
// order among ties.
func stableSortByScoreDesc(results []*model.ConfigResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && scoreOf(results[j]) > scoreOf(results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func scoreOf(r *model.ConfigResult) float64 {
	if r.QualityScore == nil {
		return 0
	}
	return *r.QualityScore
}
