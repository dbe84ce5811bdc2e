// Package output emits a set of subscription artifacts atomically: raw,
// base64, CSV, sing-box JSON, Clash YAML, and the Surge/Quantumult X/XYZ
// text formats.
package output

import (
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/protocol"
	"github.com/vpnagg/aggregator/pkg/source/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format names one of the selectable output artifacts.
type Format string

const (
	FormatRaw       Format = "raw"
	FormatBase64    Format = "base64"
	FormatCSV       Format = "csv"
	FormatSingBox   Format = "singbox"
	FormatClash     Format = "clash"
	FormatClashProv Format = "clash-proxies"
	FormatSurge     Format = "surge"
	FormatQX        Format = "qx"
	FormatXYZ       Format = "xyz"
)

// AllFormats is the complete format set, used when the CLI's --formats flag
// is the literal "all".
var AllFormats = []Format{
	FormatRaw, FormatBase64, FormatCSV, FormatSingBox, FormatClash,
	FormatClashProv, FormatSurge, FormatQX, FormatXYZ,
}

var tagSlugRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Result records what files a Write call produced, for vpn_report.json.
type Result struct {
	Written []string
	Errors  map[Format]error
}

// Write emits every requested format into dir. Per spec, any single
// formatter's failure is logged and does not abort the others; at least
// FormatRaw must succeed for the overall result to be considered a success
// (callers inspect Result.Errors[FormatRaw]).
func Write(dir string, results []*model.ConfigResult, formats []Format) Result {
	res := Result{Errors: make(map[Format]error)}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Errors[FormatRaw] = xerrors.New(xerrors.KindIO, "creating output directory", err)
		return res
	}

	for _, f := range formats {
		path, err := writeOne(dir, f, results)
		if err != nil {
			res.Errors[f] = err
			log.Error("output format failed", "format", string(f), "error", err.Error())
			continue
		}
		res.Written = append(res.Written, path)
	}
	return res
}

func writeOne(dir string, f Format, results []*model.ConfigResult) (string, error) {
	switch f {
	case FormatRaw:
		return writeRaw(dir, results)
	case FormatBase64:
		return writeBase64(dir, results)
	case FormatCSV:
		return writeCSV(dir, results)
	case FormatSingBox:
		return writeSingBox(dir, results)
	case FormatClash:
		return writeClash(dir, results)
	case FormatClashProv:
		return writeClashProviderStyle(dir, results)
	case FormatSurge:
		return writeSurge(dir, results)
	case FormatQX:
		return writeQX(dir, results)
	case FormatXYZ:
		return writeXYZ(dir, results)
	default:
		return "", xerrors.New(xerrors.KindConfig, "unknown output format: "+string(f), nil)
	}
}

func rawBytes(results []*model.ConfigResult) []byte {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = r.RawConfig
	}
	return []byte(strings.Join(lines, "\n"))
}

func writeRaw(dir string, results []*model.ConfigResult) (string, error) {
	path := filepath.Join(dir, "vpn_subscription_raw.txt")
	if err := store.AtomicWrite(path, rawBytes(results)); err != nil {
		return "", err
	}
	return path, nil
}

func writeBase64(dir string, results []*model.ConfigResult) (string, error) {
	path := filepath.Join(dir, "vpn_subscription_base64.txt")
	encoded := base64.StdEncoding.EncodeToString(rawBytes(results))
	if err := store.AtomicWrite(path, []byte(encoded)); err != nil {
		return "", err
	}
	return path, nil
}

func writeCSV(dir string, results []*model.ConfigResult) (string, error) {
	appTestNames := collectAppTestNames(results)

	var buf strings.Builder
	w := csv.NewWriter(&buf)

	header := []string{"Config", "Protocol", "Host", "Port", "Ping_MS", "Reachable", "Source", "Handshake"}
	for _, name := range appTestNames {
		header = append(header, name+"_OK")
	}
	if err := w.Write(header); err != nil {
		return "", xerrors.New(xerrors.KindIO, "writing CSV header", err)
	}

	for _, r := range results {
		row := []string{
			r.RawConfig,
			string(r.Protocol),
			r.Host,
			portCell(r.Port),
			pingCell(r.PingTimeS),
			strconv.FormatBool(r.IsReachable),
			r.SourceURL,
			boolPtrCell(r.HandshakeOK),
		}
		for _, name := range appTestNames {
			row = append(row, boolPtrCell(r.AppTestResults[name]))
		}
		if err := w.Write(row); err != nil {
			return "", xerrors.New(xerrors.KindIO, "writing CSV row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", xerrors.New(xerrors.KindIO, "flushing CSV", err)
	}

	path := filepath.Join(dir, "vpn_detailed.csv")
	if err := store.AtomicWrite(path, []byte(buf.String())); err != nil {
		return "", err
	}
	return path, nil
}

func collectAppTestNames(results []*model.ConfigResult) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range results {
		for name := range r.AppTestResults {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func portCell(port int) string {
	if port == 0 {
		return ""
	}
	return strconv.Itoa(port)
}

func pingCell(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p*1000, 'f', 2, 64)
}

func boolPtrCell(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

// singBoxOutbound is a minimal sing-box outbound descriptor.
type singBoxOutbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
	Raw        string `json:"raw"`
}

func writeSingBox(dir string, results []*model.ConfigResult) (string, error) {
	outbounds := make([]singBoxOutbound, 0, len(results))
	for i, r := range results {
		if r.Host == "" || r.Port == 0 {
			continue
		}
		outbounds = append(outbounds, singBoxOutbound{
			Type:       string(r.Protocol),
			Tag:        safeTag(r, i),
			Server:     r.Host,
			ServerPort: r.Port,
			Raw:        r.RawConfig,
		})
	}

	data, err := json.MarshalIndent(map[string]any{"outbounds": outbounds}, "", "  ")
	if err != nil {
		return "", xerrors.New(xerrors.KindIO, "marshaling sing-box JSON", err)
	}

	path := filepath.Join(dir, "vpn_singbox.json")
	if err := store.AtomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func safeTag(r *model.ConfigResult, idx int) string {
	base := fmt.Sprintf("%s-%d", r.Protocol, idx)
	return tagSlugRe.ReplaceAllString(base, "_")
}

type clashDoc struct {
	Proxies      []protocol.ClashProxy `yaml:"proxies"`
	ProxyGroups  []clashProxyGroup     `yaml:"proxy-groups"`
	Rules        []string              `yaml:"rules"`
}

type clashProxyGroup struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty"`
}

func clashProxies(results []*model.ConfigResult) ([]protocol.ClashProxy, []string) {
	proxies := make([]protocol.ClashProxy, 0, len(results))
	names := make([]string, 0, len(results))
	for i, r := range results {
		proxy, ok := protocol.ToClashProxy(r.RawConfig, i)
		if !ok {
			continue
		}
		proxies = append(proxies, proxy)
		if name, ok := proxy["name"].(string); ok {
			names = append(names, name)
		}
	}
	return proxies, names
}

func writeClash(dir string, results []*model.ConfigResult) (string, error) {
	proxies, names := clashProxies(results)

	doc := clashDoc{
		Proxies: proxies,
		ProxyGroups: []clashProxyGroup{
			{Name: "auto-select", Type: "url-test", Proxies: names, URL: "http://www.gstatic.com/generate_204", Interval: 300},
			{Name: "manual", Type: "select", Proxies: names},
		},
		Rules: []string{"MATCH,manual"},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", xerrors.New(xerrors.KindIO, "marshaling Clash YAML", err)
	}

	path := filepath.Join(dir, "clash.yaml")
	if err := store.AtomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeClashProviderStyle(dir string, results []*model.ConfigResult) (string, error) {
	proxies, _ := clashProxies(results)
	data, err := yaml.Marshal(map[string]any{"proxies": proxies})
	if err != nil {
		return "", xerrors.New(xerrors.KindIO, "marshaling Clash provider YAML", err)
	}
	path := filepath.Join(dir, "vpn_clash_proxies.yaml")
	if err := store.AtomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeSurge(dir string, results []*model.ConfigResult) (string, error) {
	var b strings.Builder
	b.WriteString("[Proxy]\n")
	for i, r := range results {
		if r.Host == "" || r.Port == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s-%d = %s, %s, %d\n", r.Protocol, i, surgeType(r.Protocol), r.Host, r.Port)
	}
	path := filepath.Join(dir, "surge.conf")
	if err := store.AtomicWrite(path, []byte(b.String())); err != nil {
		return "", err
	}
	return path, nil
}

func surgeType(p model.Protocol) string {
	switch p {
	case model.ProtocolTrojan:
		return "trojan"
	case model.ProtocolShadowsocks:
		return "ss"
	default:
		return "http"
	}
}

func writeQX(dir string, results []*model.ConfigResult) (string, error) {
	var b strings.Builder
	for i, r := range results {
		if r.Host == "" || r.Port == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s=%s:%d, tag=%s-%d\n", r.Protocol, r.Host, r.Port, r.Protocol, i)
	}
	path := filepath.Join(dir, "qx.conf")
	if err := store.AtomicWrite(path, []byte(b.String())); err != nil {
		return "", err
	}
	return path, nil
}

func writeXYZ(dir string, results []*model.ConfigResult) (string, error) {
	var b strings.Builder
	for i, r := range results {
		if r.Host == "" || r.Port == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s-%d,%s,%d\n", r.Protocol, i, r.Host, r.Port)
	}
	path := filepath.Join(dir, "xyz.txt")
	if err := store.AtomicWrite(path, []byte(b.String())); err != nil {
		return "", err
	}
	return path, nil
}

// Report is the generation summary written to vpn_report.json alongside the
// selected output artifacts: when the run happened, what it produced, and
// where the produced files landed.
type Report struct {
	RunID        string         `json:"run_id"`
	GeneratedAt  string         `json:"generated_at"`
	DurationS    float64        `json:"duration_s"`
	TotalConfigs int            `json:"total_configs"`
	Reachable    int            `json:"reachable"`
	Sources      int            `json:"sources"`
	Status       string         `json:"status"`
	Formats      []Format       `json:"formats"`
	OutputFiles  []string       `json:"output_files"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// WriteReport atomically writes report as vpn_report.json in dir.
func WriteReport(dir string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return xerrors.New(xerrors.KindIO, "marshaling vpn_report.json", err)
	}
	return store.AtomicWrite(filepath.Join(dir, "vpn_report.json"), data)
}

// ParseFormats resolves the CLI --formats value: the literal "all" expands
// to AllFormats; otherwise a comma list is parsed and any unknown name is a
// ConfigError (never silently dropped).
func ParseFormats(spec string) ([]Format, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		return AllFormats, nil
	}

	known := map[Format]bool{}
	for _, f := range AllFormats {
		known[f] = true
	}

	parts := strings.Split(spec, ",")
	formats := make([]Format, 0, len(parts))
	for _, p := range parts {
		f := Format(strings.ToLower(strings.TrimSpace(p)))
		if !known[f] {
			return nil, xerrors.New(xerrors.KindConfig, "unknown output format: "+string(f), nil)
		}
		formats = append(formats, f)
	}
	return formats, nil
}
