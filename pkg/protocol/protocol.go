// Package protocol categorizes VPN config URIs, extracts their endpoint and
// parameters, expands them into Clash/Meta proxy records, and computes the
// semantic hash used for deduplication.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
)

// MaxDecodeSize bounds base64 payload decoding to guard against pathological
// inputs, mirroring the source crawler's own safety limit.
const MaxDecodeSize = 256 * 1024

var schemeOrder = []model.Protocol{
	model.ProtocolVMess, model.ProtocolVLess, model.ProtocolReality,
	model.ProtocolTrojan, model.ProtocolShadowsocksR, model.ProtocolShadowsocks,
	model.ProtocolHysteria2, model.ProtocolHysteria, model.ProtocolTUIC,
	model.ProtocolWireGuard, model.ProtocolNaive, model.ProtocolBrook,
	model.ProtocolSnell, model.ProtocolShadowTLS, model.ProtocolJuicity,
	model.ProtocolSocks, model.ProtocolHTTP,
}

var schemePrefixes = map[model.Protocol][]string{
	model.ProtocolVMess:        {"vmess://"},
	model.ProtocolVLess:        {"vless://"},
	model.ProtocolReality:      {"reality://"},
	model.ProtocolTrojan:       {"trojan://"},
	model.ProtocolShadowsocksR: {"ssr://"},
	model.ProtocolShadowsocks:  {"ss://"},
	model.ProtocolHysteria2:    {"hysteria2://", "hy2://"},
	model.ProtocolHysteria:     {"hysteria://"},
	model.ProtocolTUIC:         {"tuic://"},
	model.ProtocolWireGuard:    {"wireguard://", "wg://"},
	model.ProtocolNaive:        {"naive://"},
	model.ProtocolBrook:        {"brook://"},
	model.ProtocolSnell:        {"snell://"},
	model.ProtocolShadowTLS:    {"shadowtls://"},
	model.ProtocolJuicity:      {"juicity://"},
	model.ProtocolSocks:        {"socks5://", "socks4://", "socks://"},
	model.ProtocolHTTP:         {"http://", "https://"},
}

// ValidConfigRe recognizes any line whose scheme is in the closed protocol
// set, used to keep otherwise-unparsed lines eligible for raw/base64 output.
var ValidConfigRe = regexp.MustCompile(
	`(?i)^(?:vmess|vless|reality|ssr?|trojan|hy2|hysteria2?|tuic|shadowtls|juicity|naive|brook|wireguard|wg|socks5|socks4|socks|http|https)://\S+$`,
)

// Categorize returns the closed-set protocol for line by case-insensitive
// scheme prefix match, or ProtocolUnknown.
func Categorize(line string) model.Protocol {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, p := range schemeOrder {
		for _, prefix := range schemePrefixes[p] {
			if strings.HasPrefix(lower, prefix) {
				return p
			}
		}
	}
	return model.ProtocolUnknown
}

// IsValidConfig reports whether line has a recognized protocol scheme, for
// lines that should still be carried into raw/base64 output even when
// structured extraction fails.
func IsValidConfig(line string) bool {
	return ValidConfigRe.MatchString(strings.TrimSpace(line))
}

// Endpoint is the result of extracting a config's host/port/params.
type Endpoint struct {
	Host   string
	Port   int
	Params map[string]string
}

// ExtractEndpoint parses a config line into its host, port, and query-style
// params. It returns a SecurityReject for hosts/ports that fail sanitation.
func ExtractEndpoint(line string) (*Endpoint, error) {
	proto := Categorize(line)
	if proto == model.ProtocolUnknown {
		return nil, xerrors.New(xerrors.KindParse, "unrecognized protocol scheme", nil)
	}

	if proto == model.ProtocolVMess {
		return extractVMessEndpoint(line)
	}
	return extractURLEndpoint(line)
}

func extractVMessEndpoint(line string) (*Endpoint, error) {
	payload := strings.TrimPrefix(line, "vmess://")
	if idx := strings.IndexAny(payload, "#"); idx >= 0 {
		payload = payload[:idx]
	}
	raw, err := decodeFlexibleBase64(payload)
	if err != nil {
		return nil, xerrors.New(xerrors.KindParse, "vmess payload is not valid base64", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, xerrors.New(xerrors.KindParse, "vmess payload is not valid JSON", err)
	}

	host, _ := obj["add"].(string)
	if host == "" {
		host, _ = obj["host"].(string)
	}

	var port int
	switch v := obj["port"].(type) {
	case string:
		port, _ = strconv.Atoi(v)
	case float64:
		port = int(v)
	}

	if err := sanitizeHostPort(host, port); err != nil {
		return nil, err
	}

	params := map[string]string{}
	for k, v := range obj {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	return &Endpoint{Host: host, Port: port, Params: params}, nil
}

// decodeFlexibleBase64 tries standard then URL-safe alphabets, padding to a
// multiple of 4 with "=" as needed, to tolerate the mixed encodings seen in
// the wild.
func decodeFlexibleBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) > MaxDecodeSize {
		return nil, xerrors.New(xerrors.KindSecurityReject, "base64 payload exceeds size cap", nil)
	}
	padded := s
	if m := len(padded) % 4; m != 0 {
		padded += strings.Repeat("=", 4-m)
	}
	if raw, err := base64.StdEncoding.DecodeString(padded); err == nil {
		return raw, nil
	}
	if raw, err := base64.URLEncoding.DecodeString(padded); err == nil {
		return raw, nil
	}
	return nil, xerrors.New(xerrors.KindParse, "unable to decode with standard or URL-safe alphabet", nil)
}

func extractURLEndpoint(line string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		var hostErr url.InvalidHostError
		if errors.As(err, &hostErr) {
			return nil, xerrors.New(xerrors.KindSecurityReject, "host contains invalid characters", err)
		}
		return nil, xerrors.New(xerrors.KindParse, "malformed config URI", err)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 0
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, xerrors.New(xerrors.KindSecurityReject, "non-numeric port", err)
		}
	}

	if err := sanitizeHostPort(host, port); err != nil {
		return nil, err
	}

	params := map[string]string{}
	for k, vals := range u.Query() {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return &Endpoint{Host: host, Port: port, Params: params}, nil
}

func sanitizeHostPort(host string, port int) error {
	if host == "" {
		return xerrors.New(xerrors.KindSecurityReject, "empty host", nil)
	}
	if strings.ContainsAny(host, " \t\n\r") {
		return xerrors.New(xerrors.KindSecurityReject, "host contains whitespace", nil)
	}
	if ip := net.ParseIP(host); ip == nil {
		if !isPlausibleHostname(host) {
			return xerrors.New(xerrors.KindSecurityReject, "host fails hostname sanitizer", nil)
		}
	}
	if port < 1 || port > 65535 {
		return xerrors.New(xerrors.KindSecurityReject, "port out of range", nil)
	}
	return nil
}

var hostnameRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]{0,62}\.)*[A-Za-z0-9][A-Za-z0-9-]{0,62}$`)

func isPlausibleHostname(host string) bool {
	return hostnameRe.MatchString(host)
}

// SemanticHash computes the 128-bit fingerprint over {protocol,
// lowercased-host, port, sorted-canonical-params}, excluding any tag or
// fragment, so cosmetic edits never change it.
func SemanticHash(proto model.Protocol, host string, port int, params map[string]string) [16]byte {
	identity := string(proto) + "|" + strings.ToLower(host) + "|" + strconv.Itoa(port)
	h1 := xxhash.Sum64String(identity)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('&')
	}
	h2 := xxhash.Sum64String(b.String())

	var out [16]byte
	putUint64(out[0:8], h1)
	putUint64(out[8:16], h2)
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// Parse turns a raw config line into a normalized ConfigResult, computing
// the semantic hash. A host or port rejected by the sanitizer is always
// returned as a SecurityReject error. Other extraction errors are not
// returned for lines that are valid enough to be carried as raw output;
// callers check (*ConfigResult).Host == "" to detect an endpoint-less line.
// The vmess remark field "ps" is left out of the hash.
func Parse(line, sourceURL string) (*model.ConfigResult, error) {
	proto := Categorize(line)
	result := &model.ConfigResult{
		RawConfig: strings.TrimSpace(line),
		Protocol:  proto,
		SourceURL: sourceURL,
		Metadata:  map[string]string{},
	}

	ep, err := ExtractEndpoint(line)
	if err != nil {
		if xerrors.Is(err, xerrors.KindSecurityReject) {
			return nil, err
		}
		// Parse-kind errors still keep the line for raw/base64 emission if
		// it otherwise looks like a valid config.
		if !IsValidConfig(line) {
			return nil, err
		}
		result.SemanticHash = SemanticHash(proto, result.RawConfig, 0, nil)
		return result, nil
	}

	result.Host = ep.Host
	result.Port = ep.Port
	params := ep.Params
	if proto == model.ProtocolVMess {
		params = make(map[string]string, len(ep.Params))
		for k, v := range ep.Params {
			if k != "ps" {
				params[k] = v
			}
		}
	}
	result.SemanticHash = SemanticHash(proto, ep.Host, ep.Port, params)
	return result, nil
}
