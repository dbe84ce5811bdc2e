// Package orchestrator wires discovery, validation, fetching, dedup,
// optional testing, scoring, and output writing into a single run, owning
// the run lifecycle end to end. It is the only component that owns a Run.
package orchestrator

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/semaphore"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/telemetry/tracing"
	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/cache"
	"github.com/vpnagg/aggregator/pkg/config"
	"github.com/vpnagg/aggregator/pkg/dedup"
	"github.com/vpnagg/aggregator/pkg/discovery"
	"github.com/vpnagg/aggregator/pkg/eventbus"
	"github.com/vpnagg/aggregator/pkg/fetcher"
	"github.com/vpnagg/aggregator/pkg/geoip"
	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/output"
	"github.com/vpnagg/aggregator/pkg/protocol"
	"github.com/vpnagg/aggregator/pkg/scorer"
	"github.com/vpnagg/aggregator/pkg/source/store"
	"github.com/vpnagg/aggregator/pkg/source/validator"
	"github.com/vpnagg/aggregator/pkg/tester"
)

// RunState is one node of the pipeline's state machine.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateDiscovering RunState = "discovering"
	StateValidating  RunState = "validating"
	StateFetching    RunState = "fetching"
	StateDeduping    RunState = "deduping"
	StateTesting     RunState = "testing"
	StateScoring     RunState = "scoring"
	StateWriting     RunState = "writing"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
	StateCancelled   RunState = "cancelled"
)

// Orchestrator coordinates one pipeline run at a time, owning all stage
// collaborators through narrow capability interfaces. It holds no
// back-references: the EventBus is a value passed down to every stage that
// needs to publish, never a pointer back into the orchestrator.
type Orchestrator struct {
	cfg *config.Config

	store     *store.Store
	fetcher   *fetcher.Fetcher
	validator *validator.Validator
	tester    *tester.Tester
	scorer    scorer.QualityScorer
	bus       *eventbus.Bus
	cache     *cache.Cache
	geoip     *geoip.Lookup

	githubClient *discovery.GithubSearchClient

	mu    sync.Mutex
	state RunState
}

// Deps bundles the collaborators Orchestrator needs. Every field must be
// non-nil except Tester, which is only exercised when cfg.Test.Enabled,
// GeoIP, which is only exercised when a database path is configured, Cache,
// whose absence sends every fetch to the network, and Scorer, which
// defaults to scorer.Default.
type Deps struct {
	Store     *store.Store
	Fetcher   *fetcher.Fetcher
	Validator *validator.Validator
	Tester    *tester.Tester
	Scorer    scorer.QualityScorer
	Bus       *eventbus.Bus
	Cache     *cache.Cache
	GeoIP     *geoip.Lookup
}

// New builds an Orchestrator from its configuration and wired dependencies.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Scorer == nil {
		deps.Scorer = scorer.Default{}
	}
	return &Orchestrator{
		cfg:          cfg,
		store:        deps.Store,
		fetcher:      deps.Fetcher,
		validator:    deps.Validator,
		tester:       deps.Tester,
		scorer:       deps.Scorer,
		bus:          deps.Bus,
		cache:        deps.Cache,
		geoip:        deps.GeoIP,
		githubClient: discovery.NewGithubSearchClient(cfg.Discovery.GithubToken),
		state:        StateIdle,
	}
}

// Overrides are per-run tuning knobs layered on top of the static config,
// decoded from a caller-supplied map (the CLI flag set or an API request
// body) via mapstructure.
type Overrides struct {
	OutputDir       string   `mapstructure:"output_dir"`
	Formats         []string `mapstructure:"formats"`
	ForceRefresh    bool     `mapstructure:"force_refresh"`
	ConcurrentLimit int      `mapstructure:"concurrent_limit"`
}

func (o *Orchestrator) transition(newState RunState) {
	o.mu.Lock()
	o.state = newState
	o.mu.Unlock()
	log.Debug("orchestrator state transition", "state", string(newState))
}

// State returns the orchestrator's current run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run executes one full pipeline run and returns its RunRecord. Per-source
// and per-item failures never abort the run; only ConfigError/IOError on
// the raw output, or context cancellation, do.
func (o *Orchestrator) Run(ctx context.Context, raw map[string]any) (*model.RunRecord, error) {
	runID := uuid.NewString()
	overrides, err := decodeOverrides(raw)
	if err != nil {
		o.transition(StateFailed)
		return nil, err
	}

	outputDir := o.cfg.Output.Dir
	if overrides.OutputDir != "" {
		outputDir = overrides.OutputDir
	}
	concurrentLimit := o.cfg.Execution.ConcurrentLimit
	if overrides.ConcurrentLimit > 0 {
		concurrentLimit = overrides.ConcurrentLimit
	}
	formats, err := resolveFormats(o.cfg, overrides)
	if err != nil {
		o.transition(StateFailed)
		return nil, err
	}

	runStart := time.Now()
	o.bus.Publish(model.EventRunStart, runID, nil)
	log.Info("run started", "run_id", runID)

	var durations model.StageDurations
	status := "success"

	candidates, discoverDur := o.stageDiscover(ctx, runID)
	durations.Discover = discoverDur

	selected, validateDur := o.stageValidate(ctx, runID, candidates)
	durations.Validate = validateDur

	results, fetchDur := o.stageFetch(ctx, runID, selected, concurrentLimit, overrides.ForceRefresh)
	durations.Fetch = fetchDur

	if ctx.Err() != nil {
		status = "cancelled"
		o.transition(StateCancelled)
	}

	deduped := o.stageDedup(runID, results)

	if o.cfg.Test.Enabled && status != "cancelled" {
		o.stageTest(ctx, runID, deduped)
	}

	scored := o.stageScore(deduped)

	writeStart := time.Now()
	o.transition(StateWriting)
	outRes := output.Write(outputDir, scored, formats)
	durations.Output = time.Since(writeStart)
	for fmtName, werr := range outRes.Errors {
		log.Warn("output format write failed", "format", string(fmtName), "error", werr.Error())
		o.bus.Publish(model.EventErrorOccurred, runID, map[string]any{"format": string(fmtName), "error": werr.Error()})
	}
	rawErr := outRes.Errors[output.FormatRaw]
	if rawErr != nil || (len(outRes.Written) == 0 && len(scored) > 0) {
		status = "failed"
		o.transition(StateFailed)
	}
	o.bus.Publish(model.EventOutputWritten, runID, map[string]any{"files": outRes.Written})

	durations.Total = time.Since(runStart)
	if status == "success" {
		o.transition(StateDone)
	}

	reachable := 0
	for _, r := range scored {
		if r.IsReachable {
			reachable++
		}
	}

	record := &model.RunRecord{
		RunID:        runID,
		Ts:           runStart.Unix(),
		TotalConfigs: len(scored),
		Reachable:    reachable,
		Sources:      len(selected),
		Status:       status,
		Durations:    durations,
	}

	o.bus.Publish(model.EventRunDone, runID, map[string]any{"status": status, "total_configs": record.TotalConfigs})
	log.Info("run finished", "run_id", runID, "status", status, "total_configs", record.TotalConfigs, "elapsed", durations.Total.String())

	if err := AppendRunRecord(outputDir, record, 0); err != nil {
		log.Warn("failed to append run record", "run_id", runID, "error", err.Error())
	}

	reportErrors := make(map[string]string, len(outRes.Errors))
	for f, werr := range outRes.Errors {
		reportErrors[string(f)] = werr.Error()
	}
	report := output.Report{
		RunID:        runID,
		GeneratedAt:  runStart.UTC().Format(time.RFC3339),
		DurationS:    durations.Total.Seconds(),
		TotalConfigs: record.TotalConfigs,
		Reachable:    record.Reachable,
		Sources:      record.Sources,
		Status:       status,
		Formats:      formats,
		OutputFiles:  outRes.Written,
		Errors:       reportErrors,
	}
	if err := output.WriteReport(outputDir, report); err != nil {
		log.Warn("failed to write vpn_report.json", "run_id", runID, "error", err.Error())
	}

	if rawErr != nil {
		return record, rawErr
	}
	if ctx.Err() != nil {
		return record, xerrors.New(xerrors.KindCancelled, "run cancelled", ctx.Err())
	}
	return record, nil
}

// stageDiscover gathers candidate source URLs from the seed list, GitHub
// code search, and Telegram channel exports, capped at the configured
// discovery budget. A failure in any one method falls back to whatever the
// others produced; if all fail, the seed list alone still runs.
func (o *Orchestrator) stageDiscover(ctx context.Context, runID string) ([]discovery.Discovered, time.Duration) {
	start := time.Now()
	o.transition(StateDiscovering)
	ctx, end := tracing.StartStage(ctx, "discover")
	defer func() { end(nil) }()
	o.bus.Publish(model.EventDiscoverStart, runID, nil)

	var all []discovery.Discovered

	if o.cfg.Discovery.SeedListPath != "" {
		seed, err := discovery.LoadSeedList(o.cfg.Discovery.SeedListPath)
		if err != nil {
			log.Warn("seed list discovery failed", "error", err.Error())
		}
		all = append(all, seed...)
	}

	if !o.cfg.Execution.SkipNetwork && o.cfg.Discovery.GithubToken != "" {
		gh, err := o.githubClient.Search(ctx, o.cfg.Discovery.DiscoveryCap)
		if err != nil {
			log.Warn("github discovery failed, continuing with seed list", "error", err.Error())
		}
		all = append(all, gh...)
	}

	if o.cfg.Discovery.ChannelsPath != "" {
		channels, err := discovery.LoadChannelList(o.cfg.Discovery.ChannelsPath)
		if err != nil {
			log.Warn("telegram channel list load failed", "error", err.Error())
		}
		sources := make([]discovery.ChannelSource, 0, len(channels))
		for _, ch := range channels {
			sources = append(sources, discovery.ChannelSource{Name: ch, ChannelFile: o.cfg.Discovery.ChannelsPath})
		}
		tg, err := discovery.ScrapeChannels(sources)
		if err != nil {
			log.Warn("telegram discovery failed", "error", err.Error())
		}
		all = append(all, tg...)
	}

	ranked := discovery.Rank(all, time.Now())
	ranked = o.dropBlacklisted(ranked)
	discoverCap := o.cfg.Discovery.DiscoveryCap
	if discoverCap > 0 && len(ranked) > discoverCap {
		ranked = ranked[:discoverCap]
	}

	o.bus.Publish(model.EventDiscoverDone, runID, map[string]any{"count": len(ranked)})
	return ranked, time.Since(start)
}

// dropBlacklisted filters out any candidate whose source store record has
// IsBlacklisted set, so a `sources blacklist <url>` call actually keeps that
// source out of every later stage instead of only marking it on disk.
func (o *Orchestrator) dropBlacklisted(candidates []discovery.Discovered) []discovery.Discovered {
	if o.store == nil {
		return candidates
	}
	out := make([]discovery.Discovered, 0, len(candidates))
	for _, c := range candidates {
		if meta, ok := o.store.Get(c.URL); ok && meta.IsBlacklisted {
			continue
		}
		out = append(out, c)
	}
	return out
}

// stageValidate probes every candidate, drops those below the global
// cfg.Validate.MinScore threshold, multiplies the rest by their per-URL
// weight from the source store, and returns URLs sorted by weighted score
// descending. There is no per-URL min-score override. If filtering would drop everything, the raw
// discovered set is used instead, per the documented fallback policy.
func (o *Orchestrator) stageValidate(ctx context.Context, runID string, candidates []discovery.Discovered) ([]string, time.Duration) {
	start := time.Now()
	o.transition(StateValidating)
	ctx, end := tracing.StartStage(ctx, "validate")
	defer func() { end(nil) }()
	o.bus.Publish(model.EventValidateStart, runID, nil)

	var scored []scoredURL
	rawURLs := make([]string, 0, len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}

		if meta, ok := o.store.Get(c.URL); ok && meta.IsBlacklisted {
			continue
		}

		rawURLs = append(rawURLs, c.URL)

		if o.cfg.Execution.SkipNetwork {
			scored = append(scored, scoredURL{url: c.URL, weight: 1})
			continue
		}

		health, err := o.validator.Validate(ctx, c.URL)
		if err != nil {
			log.Debug("source validation failed", "url", c.URL, "error", err.Error())
			o.bus.Publish(model.EventErrorOccurred, runID, map[string]any{"url": c.URL, "error": err.Error()})
			continue
		}

		weight := 1.0
		if meta, ok := o.store.Get(c.URL); ok {
			weight = meta.Weight
		}

		o.recordSourceHealth(c.URL, health)

		if health.ReliabilityScore < o.cfg.Validate.MinScore {
			continue
		}

		scored = append(scored, scoredURL{url: c.URL, weight: health.ReliabilityScore * weight})
	}

	if len(scored) == 0 {
		o.bus.Publish(model.EventValidateDone, runID, map[string]any{"count": len(rawURLs), "fallback": true})
		return rawURLs, time.Since(start)
	}

	sortScoredDesc(scored)
	urls := make([]string, len(scored))
	for i, s := range scored {
		urls[i] = s.url
	}

	o.bus.Publish(model.EventValidateDone, runID, map[string]any{"count": len(urls)})
	return urls, time.Since(start)
}

// recordSourceHealth persists one validation outcome into the source store,
// advancing the FSM and recomputing the reputation score as a blend of
// success rate, config volume, latency, and tier weight, then mapping that
// blend into [0.05, 1] via blend*0.95 + 0.05. The previous reputation score
// does not enter the new one.
func (o *Orchestrator) recordSourceHealth(url string, health *validator.SourceHealth) {
	if o.store == nil {
		return
	}
	now := time.Now()
	if err := o.store.Update(url, model.TierExperimental, func(m *model.SourceMetadata) {
		m.RecordCheck(health.Accessible, now)
		if !health.Accessible {
			return
		}

		const historyWindow = 20.0
		m.AvgResponseTimeS = rollingAvg(m.AvgResponseTimeS, health.ResponseTimeS, historyWindow)
		m.AvgConfigCount = rollingAvg(m.AvgConfigCount, float64(health.EstimatedConfigs), historyWindow)

		successRate := float64(m.SuccessCount) / float64(m.SuccessCount+m.FailureCount)
		fresh := successRate*0.4 +
			clampUnit(m.AvgConfigCount/1000)*0.3 +
			clampUnit(1-m.AvgResponseTimeS/30)*0.2 +
			m.Weight*0.1
		m.ReputationScore = clampUnit(fresh*0.95 + 0.05)
	}); err != nil {
		log.Warn("failed to persist source health", "url", url, "error", err.Error())
	}
}

// rollingAvg nudges prev toward sample as if sample were the latest entry in
// a window-sized moving average.
func rollingAvg(prev, sample, window float64) float64 {
	return prev + (sample-prev)/window
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scoredURL pairs a candidate source with its weighted validation score.
type scoredURL struct {
	url    string
	weight float64
}

// sortScoredDesc is an insertion sort: validated source lists are small
// (bounded by the discovery cap), and insertion sort keeps ties in
// discovery order rather than reshuffling on every run.
func sortScoredDesc(items []scoredURL) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].weight > items[j-1].weight; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// stageFetch downloads and parses every source under a global concurrency
// semaphore (on top of the fetcher's own per-host rate limiter), capped at
// the fetch budget. Per-source failures are recovered locally: the source
// is skipped, an ERROR_OCCURRED event is published, and the run continues.
func (o *Orchestrator) stageFetch(ctx context.Context, runID string, urls []string, concurrentLimit int, forceRefresh bool) ([]*model.ConfigResult, time.Duration) {
	start := time.Now()
	o.transition(StateFetching)
	ctx, end := tracing.StartStage(ctx, "fetch")
	defer func() { end(nil) }()
	o.bus.Publish(model.EventFetchStart, runID, map[string]any{"sources": len(urls)})

	fetchCap := o.cfg.Execution.FetchCap
	if fetchCap > 0 && len(urls) > fetchCap {
		urls = urls[:fetchCap]
	}
	if concurrentLimit <= 0 {
		concurrentLimit = 1
	}

	var (
		mu      sync.Mutex
		results []*model.ConfigResult
		done    int
		wg      sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(concurrentLimit))

	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer sem.Release(1)

			body, err := o.fetchWithCache(ctx, u, forceRefresh)
			if err != nil {
				log.Debug("fetch failed", "url", u, "error", err.Error())
				o.bus.Publish(model.EventErrorOccurred, runID, map[string]any{"url": u, "error": err.Error()})
				return
			}

			parsed := o.parseBody(body, u, runID)

			mu.Lock()
			results = append(results, parsed...)
			done++
			o.bus.Publish(model.EventFetchProgress, runID, map[string]any{"done": done, "total": len(urls)})
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	o.bus.Publish(model.EventFetchDone, runID, map[string]any{"configs": len(results)})
	return results, time.Since(start)
}

const fetchCacheTTL = 10 * time.Minute

// fetchWithCache wraps the Fetcher with the shared cache: a forced refresh
// or a cache miss falls through to the network, and a successful fetch is
// written back so a later fetch of the same URL through this cache within
// the TTL skips the network.
func (o *Orchestrator) fetchWithCache(ctx context.Context, u string, forceRefresh bool) (string, error) {
	if o.cache == nil || forceRefresh {
		return o.fetcher.Fetch(ctx, u)
	}

	key := cache.Key("fetch", u)
	if cached, ok := o.cache.Get(key); ok {
		return string(cached), nil
	}

	body, err := o.fetcher.Fetch(ctx, u)
	if err != nil {
		return "", err
	}
	o.cache.Set(key, []byte(body), fetchCacheTTL)
	return body, nil
}

func (o *Orchestrator) parseBody(body, sourceURL, runID string) []*model.ConfigResult {
	var out []*model.ConfigResult
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !protocol.IsValidConfig(line) {
			continue
		}
		result, err := protocol.Parse(line, sourceURL)
		if err != nil {
			if xerrors.Is(err, xerrors.KindSecurityReject) {
				o.bus.Publish(model.EventInvalidHostSkipped, runID, map[string]any{"source": sourceURL})
			} else {
				o.bus.Publish(model.EventErrorOccurred, runID, map[string]any{"source": sourceURL, "error": err.Error()})
			}
			continue
		}
		o.enrichCountry(result)
		out = append(out, result)
	}
	return out
}

// enrichCountry populates result.Metadata["country"] from the optional GeoIP
// database, keyed by the host the config points at. A disabled database, an
// unresolvable host, or a lookup miss just leaves the field unset.
func (o *Orchestrator) enrichCountry(result *model.ConfigResult) {
	if o.geoip == nil || result.Host == "" {
		return
	}
	code, ok := o.geoip.Country(result.Host)
	if !ok {
		return
	}
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	result.Metadata["country"] = code
}

func (o *Orchestrator) stageDedup(runID string, results []*model.ConfigResult) []*model.ConfigResult {
	o.transition(StateDeduping)
	dd := dedup.New(o.dedupFilters(), o.cfg.Dedup.ExpectedCapacity, o.cfg.Dedup.TargetFPR)
	deduped, stats := dd.Deduplicate(results)
	o.bus.Publish(model.EventDedupDone, runID, map[string]any{
		"input": stats.Input, "output": stats.Output, "duplicates": stats.Duplicates,
	})
	return deduped
}

// dedupFilters translates the static config.DedupConfig into a dedup.Filters
// pipeline. An invalid include/exclude regex is logged and dropped rather
// than aborting the run; the remaining filters still apply.
func (o *Orchestrator) dedupFilters() dedup.Filters {
	cfg := o.cfg.Dedup
	return dedup.Filters{
		TLSFragment:      cfg.TLSFragment,
		IncludeProtocols: stringSetUpper(cfg.IncludeProtocols),
		ExcludeProtocols: stringSetUpper(cfg.ExcludeProtocols),
		IncludeCountries: stringSetUpper(cfg.IncludeCountries),
		ExcludeCountries: stringSetUpper(cfg.ExcludeCountries),
		IncludeRegexes:   compileAllValid(cfg.IncludeRegexes),
		ExcludeRegexes:   compileAllValid(cfg.ExcludeRegexes),
	}
}

func stringSetUpper(vals []string) mapset.Set[string] {
	if len(vals) == 0 {
		return nil
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, v := range vals {
		set.Add(strings.ToUpper(v))
	}
	return set
}

func compileAllValid(patterns []string) []*regexp.Regexp {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn("dedup: invalid regex filter, skipping", "pattern", p, "error", err.Error())
			continue
		}
		out = append(out, re)
	}
	return out
}

func (o *Orchestrator) stageTest(ctx context.Context, runID string, results []*model.ConfigResult) {
	o.transition(StateTesting)
	if o.tester == nil {
		return
	}
	o.tester.TestAll(ctx, results)
	o.bus.Publish(model.EventTestCompleted, runID, map[string]any{"count": len(results)})
}

func (o *Orchestrator) stageScore(results []*model.ConfigResult) []*model.ConfigResult {
	o.transition(StateScoring)
	return scorer.Score(o.scorer, results)
}

func resolveFormats(cfg *config.Config, overrides Overrides) ([]output.Format, error) {
	if len(overrides.Formats) > 0 {
		var out []output.Format
		for _, f := range overrides.Formats {
			parsed, err := output.ParseFormats(f)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		return out, nil
	}
	return cfg.ResolvedFormats()
}
