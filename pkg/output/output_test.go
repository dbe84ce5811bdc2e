package output

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/model"
)

func sampleResults() []*model.ConfigResult {
	return []*model.ConfigResult{
		{RawConfig: "vmess://abc", Protocol: model.ProtocolVMess, Host: "1.2.3.4", Port: 443, SourceURL: "https://s1.example/a.txt"},
		{RawConfig: "trojan://pw@host.example:443#tag", Protocol: model.ProtocolTrojan, Host: "host.example", Port: 443, SourceURL: "https://s2.example/b.txt"},
	}
}

func TestWriteRawAndBase64RoundTrip(t *testing.T) {
	dir := t.TempDir()
	res := Write(dir, sampleResults(), []Format{FormatRaw, FormatBase64})
	require.Empty(t, res.Errors)

	raw, err := os.ReadFile(filepath.Join(dir, "vpn_subscription_raw.txt"))
	require.NoError(t, err)

	b64, err := os.ReadFile(filepath.Join(dir, "vpn_subscription_base64.txt"))
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(string(b64))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestWriteEmptyResultsProducesEmptyRaw(t *testing.T) {
	dir := t.TempDir()
	res := Write(dir, nil, []Format{FormatRaw})
	require.Empty(t, res.Errors)

	raw, err := os.ReadFile(filepath.Join(dir, "vpn_subscription_raw.txt"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestWriteCSVHeader(t *testing.T) {
	dir := t.TempDir()
	res := Write(dir, sampleResults(), []Format{FormatCSV})
	require.Empty(t, res.Errors)

	data, err := os.ReadFile(filepath.Join(dir, "vpn_detailed.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Config,Protocol,Host,Port,Ping_MS,Reachable,Source,Handshake")
}

func TestParseFormatsAllAndUnknown(t *testing.T) {
	all, err := ParseFormats("all")
	require.NoError(t, err)
	assert.Equal(t, AllFormats, all)

	_, err = ParseFormats("csv,bogus")
	require.Error(t, err)
}

func TestWriteReportProducesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	report := Report{
		RunID:        "run-123",
		TotalConfigs: 2,
		Reachable:    1,
		Sources:      1,
		Status:       "success",
		Formats:      []Format{FormatRaw},
		OutputFiles:  []string{filepath.Join(dir, "vpn_subscription_raw.txt")},
	}
	require.NoError(t, WriteReport(dir, report))

	data, err := os.ReadFile(filepath.Join(dir, "vpn_report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "run-123")
	assert.Contains(t, string(data), "\"status\": \"success\"")
}
