// Package model holds the data types shared across every pipeline stage:
// source metadata and its FSM, parsed configuration results, cache entries,
// bus events, and run records.
package model

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Protocol is the closed set of VPN config schemes the parser recognizes.
type Protocol string

const (
	ProtocolVMess      Protocol = "vmess"
	ProtocolVLess      Protocol = "vless"
	ProtocolReality    Protocol = "reality"
	ProtocolTrojan     Protocol = "trojan"
	ProtocolShadowsocks Protocol = "ss"
	ProtocolShadowsocksR Protocol = "ssr"
	ProtocolHysteria   Protocol = "hysteria"
	ProtocolHysteria2  Protocol = "hysteria2"
	ProtocolTUIC       Protocol = "tuic"
	ProtocolWireGuard  Protocol = "wireguard"
	ProtocolNaive      Protocol = "naive"
	ProtocolBrook      Protocol = "brook"
	ProtocolSnell      Protocol = "snell"
	ProtocolShadowTLS  Protocol = "shadowtls"
	ProtocolJuicity    Protocol = "juicity"
	ProtocolSocks      Protocol = "socks"
	ProtocolHTTP       Protocol = "http"
	ProtocolUnknown    Protocol = "unknown"
)

// TLSLike reports whether the protocol's transport includes a TLS handshake
// layer, per the glossary definition.
func (p Protocol) TLSLike() bool {
	switch p {
	case ProtocolVMess, ProtocolVLess, ProtocolTrojan, ProtocolReality:
		return true
	default:
		return false
	}
}

// Tier classifies a source's expected reliability. DefaultWeight returns
// the fallback weight used when a sources.yaml entry omits one.
type Tier string

const (
	TierPremium      Tier = "premium"
	TierReliable     Tier = "reliable"
	TierBulk         Tier = "bulk"
	TierExperimental Tier = "experimental"
)

func (t Tier) DefaultWeight() float64 {
	switch t {
	case TierPremium:
		return 1.0
	case TierReliable:
		return 0.8
	case TierBulk:
		return 0.5
	case TierExperimental:
		return 0.2
	default:
		return 0.5
	}
}

// SourceState is the FSM state orthogonal to SourceMetadata's raw counters.
type SourceState string

const (
	StateNew        SourceState = "new"
	StateProbation  SourceState = "probation"
	StateTrusted    SourceState = "trusted"
	StateSuspended  SourceState = "suspended"
)

// CheckResult is one entry in a SourceMetadata's bounded history ring.
type CheckResult struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Success   bool      `json:"success" yaml:"success"`
}

const maxHistory = 100

// SourceMetadata is the persistent per-source record maintained by the
// SourceStateStore and mutated by the Validator and Tester.
type SourceMetadata struct {
	URL               string              `json:"url" yaml:"url"`
	Tier              Tier                `json:"tier" yaml:"tier"`
	Weight            float64             `json:"weight" yaml:"weight"`
	Protocols         mapset.Set[string]  `json:"-" yaml:"-"`
	UpdateFrequency   time.Duration       `json:"update_frequency" yaml:"update_frequency"`
	LastCheck         time.Time           `json:"last_check" yaml:"last_check"`
	SuccessCount      int                 `json:"success_count" yaml:"success_count"`
	FailureCount      int                 `json:"failure_count" yaml:"failure_count"`
	AvgResponseTimeS  float64             `json:"avg_response_time_s" yaml:"avg_response_time_s"`
	AvgConfigCount    float64             `json:"avg_config_count" yaml:"avg_config_count"`
	ReputationScore   float64             `json:"reputation_score" yaml:"reputation_score"`
	History           []CheckResult       `json:"history" yaml:"history"`
	IsBlacklisted     bool                `json:"is_blacklisted" yaml:"is_blacklisted"`
	State             SourceState         `json:"state" yaml:"state"`
	ConsecutiveOK     int                 `json:"consecutive_ok" yaml:"consecutive_ok"`
	ConsecutiveFail   int                 `json:"consecutive_fail" yaml:"consecutive_fail"`
	Metadata          map[string]string   `json:"metadata" yaml:"metadata"`
}

// NewSourceMetadata builds a fresh record in state "new" with the tier's
// default weight.
func NewSourceMetadata(url string, tier Tier) *SourceMetadata {
	return &SourceMetadata{
		URL:       url,
		Tier:      tier,
		Weight:    tier.DefaultWeight(),
		Protocols: mapset.NewThreadUnsafeSet[string](),
		State:     StateNew,
		Metadata:  map[string]string{},
	}
}

// RecordCheck appends to the bounded history ring, updates counters and the
// blacklist invariant, and drives the state FSM.
func (m *SourceMetadata) RecordCheck(success bool, at time.Time) {
	m.History = append(m.History, CheckResult{Timestamp: at, Success: success})
	if len(m.History) > maxHistory {
		m.History = m.History[len(m.History)-maxHistory:]
	}
	m.LastCheck = at

	if success {
		m.SuccessCount++
		m.ConsecutiveOK++
		m.ConsecutiveFail = 0
	} else {
		m.FailureCount++
		m.ConsecutiveFail++
		m.ConsecutiveOK = 0
	}

	if m.FailureCount > 10 && float64(m.SuccessCount) < 0.2*float64(m.FailureCount) {
		m.IsBlacklisted = true
	}

	m.advanceState()
}

func (m *SourceMetadata) advanceState() {
	const suspendAfter = 3
	const resumeAfter = 2
	const trustedMinChecks = 5

	switch m.State {
	case StateNew:
		if m.SuccessCount >= 2 {
			m.State = StateProbation
		}
	case StateProbation:
		if m.ConsecutiveFail >= suspendAfter {
			m.State = StateSuspended
			return
		}
		if m.ReputationScore >= 0.8 && (m.SuccessCount+m.FailureCount) >= trustedMinChecks {
			m.State = StateTrusted
		}
	case StateTrusted:
		if m.ConsecutiveFail >= suspendAfter {
			m.State = StateSuspended
			return
		}
		if m.ReputationScore < 0.8 {
			m.State = StateProbation
		}
	case StateSuspended:
		if m.ConsecutiveOK >= resumeAfter {
			m.State = StateProbation
		}
	}
}

// ConfigResult is a normalized, parsed VPN configuration line.
type ConfigResult struct {
	RawConfig       string            `json:"raw_config"`
	Protocol        Protocol          `json:"protocol"`
	Host            string            `json:"host,omitempty"`
	Port            int               `json:"port,omitempty"`
	SourceURL       string            `json:"source_url"`
	PingTimeS       *float64          `json:"ping_time_s,omitempty"`
	IsReachable     bool              `json:"is_reachable"`
	HandshakeOK     *bool             `json:"handshake_ok,omitempty"`
	AppTestResults  map[string]*bool  `json:"app_test_results,omitempty"`
	QualityScore    *float64          `json:"quality_score,omitempty"`
	SemanticHash    [16]byte          `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SemanticHashHex renders the 128-bit semantic hash as lowercase hex, for
// JSON/CSV emission and log fields.
func (c *ConfigResult) SemanticHashHex() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 32)
	for i, b := range c.SemanticHash {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// EventType names a stable, externally-visible lifecycle event.
type EventType string

const (
	EventRunStart          EventType = "RUN_START"
	EventRunDone           EventType = "RUN_DONE"
	EventDiscoverStart     EventType = "DISCOVER_START"
	EventDiscoverDone      EventType = "DISCOVER_DONE"
	EventValidateStart     EventType = "VALIDATE_START"
	EventValidateDone      EventType = "VALIDATE_DONE"
	EventFetchStart        EventType = "FETCH_START"
	EventFetchProgress     EventType = "FETCH_PROGRESS"
	EventFetchDone         EventType = "FETCH_DONE"
	EventDedupDone         EventType = "DEDUP_DONE"
	EventOutputWritten     EventType = "OUTPUT_WRITTEN"
	EventErrorOccurred     EventType = "ERROR_OCCURRED"
	EventInvalidHostSkipped EventType = "INVALID_HOST_SKIPPED"
	EventTestCompleted     EventType = "TEST_COMPLETED"
)

// Event is the wire format published on the EventBus and, when an HTTP
// layer exists externally, relayed to subscribers as JSON.
type Event struct {
	Type   EventType      `json:"type"`
	Data   map[string]any `json:"data"`
	Ts     int64          `json:"ts"`
	Source string         `json:"source"`
}

// StageDurations records how long each orchestrator stage took, for
// RunRecord.
type StageDurations struct {
	Total    time.Duration `json:"total"`
	Discover time.Duration `json:"discover"`
	Validate time.Duration `json:"validate"`
	Fetch    time.Duration `json:"fetch"`
	Output   time.Duration `json:"output"`
}

// RunRecord is the compact, append-only summary of one pipeline run.
type RunRecord struct {
	RunID          string         `json:"run_id"`
	Ts             int64          `json:"ts"`
	TotalConfigs   int            `json:"total_configs"`
	Reachable      int            `json:"reachable"`
	Sources        int            `json:"sources"`
	Status         string         `json:"status"`
	Durations      StageDurations `json:"durations"`
}
