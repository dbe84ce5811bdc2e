package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/config"
	"github.com/vpnagg/aggregator/pkg/eventbus"
	"github.com/vpnagg/aggregator/pkg/fetcher"
	"github.com/vpnagg/aggregator/pkg/output"
	"github.com/vpnagg/aggregator/pkg/source/store"
	"github.com/vpnagg/aggregator/pkg/source/validator"
)

func newTestOrchestrator(t *testing.T, seedPath, outputDir string) *Orchestrator {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return newTestOrchestratorWithStore(t, seedPath, outputDir, st)
}

func newTestOrchestratorWithStore(t *testing.T, seedPath, outputDir string, st *store.Store) *Orchestrator {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Discovery.SeedListPath = seedPath
	cfg.Output.Dir = outputDir
	cfg.Output.Formats = []string{"raw,base64"}
	cfg.Validate.MinScore = 0

	f, err := fetcher.New(fetcher.Config{})
	require.NoError(t, err)

	bus := eventbus.New(16)
	t.Cleanup(bus.Close)

	return New(cfg, Deps{
		Store:     st,
		Fetcher:   f,
		Validator: validator.New(f),
		Bus:       bus,
	})
}

func TestRunHappyPathTwoSources(t *testing.T) {
	s1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vless://u@host1.example:443?security=tls&type=ws&path=/a#s1\n"))
	}))
	defer s1.Close()
	s2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("trojan://pw@host2.example:443#tag\n"))
	}))
	defer s2.Close()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(
		"sources:\n  premium:\n    urls:\n      - "+s1.URL+"\n      - "+s2.URL+"\n"), 0o644))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestrator(t, seedPath, outputDir)

	record, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "success", record.Status)
	assert.Equal(t, 2, record.TotalConfigs)
	assert.Equal(t, StateDone, orch.State())

	raw, err := os.ReadFile(filepath.Join(outputDir, "vpn_subscription_raw.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "host1.example")
	assert.Contains(t, string(raw), "host2.example")
}

func TestRunDeduplicatesAcrossSources(t *testing.T) {
	body := "vless://u@h.example:443?security=tls&type=ws&path=/a#s1\n"
	body2 := "vless://u@h.example:443?type=ws&security=tls&path=/a#s2\n"

	s1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer s1.Close()
	s2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body2))
	}))
	defer s2.Close()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(
		"sources:\n  premium:\n    urls:\n      - "+s1.URL+"\n      - "+s2.URL+"\n"), 0o644))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestrator(t, seedPath, outputDir)

	record, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, record.TotalConfigs)
}

func TestRunEmptySourcesProducesEmptyRawNoError(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("sources: {}\n"), 0o644))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestrator(t, seedPath, outputDir)

	record, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, record.TotalConfigs)

	raw, err := os.ReadFile(filepath.Join(outputDir, "vpn_subscription_raw.txt"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestRunOverridesOutputDirAndFormats(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("sources: {}\n"), 0o644))

	orch := newTestOrchestrator(t, seedPath, filepath.Join(dir, "default-out"))

	overrideDir := filepath.Join(dir, "override-out")
	_, err := orch.Run(context.Background(), map[string]any{
		"output_dir": overrideDir,
		"formats":    []string{"raw"},
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(overrideDir, "vpn_subscription_raw.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "default-out", "vpn_subscription_raw.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCancellationMarksCancelledStatus(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(
		"sources:\n  premium:\n    urls:\n      - "+slow.URL+"\n"), 0o644))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestrator(t, seedPath, outputDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := orch.Run(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, "cancelled", record.Status)
}

func TestDecodeOverridesNil(t *testing.T) {
	o, err := decodeOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, o.OutputDir)
}

func TestResolveFormatsFallsBackToConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Formats = []string{"raw,base64"}
	formats, err := resolveFormats(cfg, Overrides{})
	require.NoError(t, err)
	assert.Contains(t, formats, output.FormatRaw)
	assert.Contains(t, formats, output.FormatBase64)
}

func TestRunPersistsSourceHealthIntoStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("trojan://pw@host.example:443#tag\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(
		"sources:\n  premium:\n    urls:\n      - "+srv.URL+"\n"), 0o644))

	storeDir := t.TempDir()
	st, err := store.Open(storeDir)
	require.NoError(t, err)

	orch := newTestOrchestratorWithStore(t, seedPath, filepath.Join(dir, "out"), st)
	_, err = orch.Run(context.Background(), nil)
	require.NoError(t, err)

	meta, ok := st.Get(srv.URL)
	require.True(t, ok, "validated source should be persisted into the store")
	assert.Equal(t, 1, meta.SuccessCount)
	assert.Greater(t, meta.ReputationScore, 0.0)
	assert.False(t, meta.LastCheck.IsZero())
}

func TestRunSkipsBlacklistedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("trojan://pw@blacklisted.example:443#tag\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(
		"sources:\n  premium:\n    urls:\n      - "+srv.URL+"\n"), 0o644))

	storeDir := t.TempDir()
	st, err := store.Open(storeDir)
	require.NoError(t, err)
	require.NoError(t, st.Blacklist(srv.URL))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestratorWithStore(t, seedPath, outputDir, st)

	record, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, record.TotalConfigs)
	assert.Equal(t, 0, record.Sources)
}

func TestRunWritesGenerationReport(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("sources: {}\n"), 0o644))

	outputDir := filepath.Join(dir, "out")
	orch := newTestOrchestrator(t, seedPath, outputDir)

	record, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outputDir, "vpn_report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), record.RunID)
}

func TestDedupFiltersTranslatesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dedup.IncludeProtocols = []string{"vless"}
	cfg.Dedup.ExcludeCountries = []string{"cn"}
	cfg.Dedup.IncludeRegexes = []string{"^good", "(unterminated"}

	orch := &Orchestrator{cfg: cfg}
	filters := orch.dedupFilters()

	assert.True(t, filters.IncludeProtocols.Contains("VLESS"))
	assert.True(t, filters.ExcludeCountries.Contains("CN"))
	require.Len(t, filters.IncludeRegexes, 1, "invalid regex should be skipped, not abort the run")
	assert.True(t, filters.IncludeRegexes[0].MatchString("goodish"))
}
