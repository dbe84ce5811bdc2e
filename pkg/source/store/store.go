// Package store persists SourceMetadata to disk across two files — a YAML
// of known sources grouped by tier, and a JSON of per-URL performance/FSM
// state — surviving restarts. Writes are atomic and serialized behind a
// single-writer file lock; reads are lock-free snapshots.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/gofrs/flock"

	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sourcesDoc is the on-disk shape of sources.yaml: a map of tier name to a
// list of URLs, matching the original's tiered-groups layout.
type sourcesDoc struct {
	Sources map[string]tierGroup `yaml:"sources"`
}

type tierGroup struct {
	URLs []string `yaml:"urls"`
}

// performanceEntry is the on-disk shape of one URL's entry in
// source_performance.json.
type performanceEntry struct {
	Tier             model.Tier         `json:"tier"`
	Weight           float64            `json:"weight"`
	LastCheck        time.Time          `json:"last_check"`
	SuccessCount     int                `json:"success_count"`
	FailureCount     int                `json:"failure_count"`
	AvgResponseTimeS float64            `json:"avg_response_time_s"`
	AvgConfigCount   float64            `json:"avg_config_count"`
	ReputationScore  float64            `json:"reputation_score"`
	History          []model.CheckResult `json:"history"`
	IsBlacklisted    bool               `json:"is_blacklisted"`
	State            model.SourceState  `json:"state"`
	ConsecutiveOK    int                `json:"consecutive_ok"`
	ConsecutiveFail  int                `json:"consecutive_fail"`
}

// Store is the single-writer, atomic-write source metadata store.
type Store struct {
	sourcesPath     string
	performancePath string
	lock            *flock.Flock

	mu      sync.RWMutex
	sources map[string]*model.SourceMetadata
}

// Open loads (or initializes empty) state from disk at dir/sources.yaml and
// dir/source_performance.json.
func Open(dir string) (*Store, error) {
	s := &Store{
		sourcesPath:     filepath.Join(dir, "sources.yaml"),
		performancePath: filepath.Join(dir, "source_performance.json"),
		lock:            flock.New(filepath.Join(dir, ".sources.lock")),
		sources:         make(map[string]*model.SourceMetadata),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	doc := sourcesDoc{Sources: map[string]tierGroup{}}
	if raw, err := os.ReadFile(s.sourcesPath); err == nil {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return xerrors.New(xerrors.KindConfig, "malformed sources.yaml", err)
		}
	} else if !os.IsNotExist(err) {
		return xerrors.New(xerrors.KindIO, "reading sources.yaml", err)
	}

	performance := map[string]performanceEntry{}
	if raw, err := os.ReadFile(s.performancePath); err == nil {
		if err := json.Unmarshal(raw, &performance); err != nil {
			return xerrors.New(xerrors.KindConfig, "malformed source_performance.json", err)
		}
	} else if !os.IsNotExist(err) {
		return xerrors.New(xerrors.KindIO, "reading source_performance.json", err)
	}

	for tierName, group := range doc.Sources {
		for _, url := range group.URLs {
			meta := model.NewSourceMetadata(url, model.Tier(tierName))
			if perf, ok := performance[url]; ok {
				applyPerformance(meta, perf)
			}
			s.sources[url] = meta
		}
	}
	return nil
}

func applyPerformance(meta *model.SourceMetadata, perf performanceEntry) {
	meta.Weight = perf.Weight
	meta.LastCheck = perf.LastCheck
	meta.SuccessCount = perf.SuccessCount
	meta.FailureCount = perf.FailureCount
	meta.AvgResponseTimeS = perf.AvgResponseTimeS
	meta.AvgConfigCount = perf.AvgConfigCount
	meta.ReputationScore = perf.ReputationScore
	meta.History = perf.History
	meta.IsBlacklisted = perf.IsBlacklisted
	meta.State = perf.State
	meta.ConsecutiveOK = perf.ConsecutiveOK
	meta.ConsecutiveFail = perf.ConsecutiveFail
}

// All returns a lock-free snapshot slice of every known source, sorted by
// URL for deterministic iteration.
func (s *Store) All() []*model.SourceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.SourceMetadata, 0, len(s.sources))
	for _, m := range s.sources {
		copy := *m
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Get returns a snapshot copy of one source's metadata, if known.
func (s *Store) Get(url string) (*model.SourceMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sources[url]
	if !ok {
		return nil, false
	}
	copy := *m
	return &copy, true
}

// AddAtomic inserts or replaces a source and persists it: either both the
// in-memory map and the files reflect the addition, or neither does.
func (s *Store) AddAtomic(meta *model.SourceMetadata) error {
	if err := s.lock.Lock(); err != nil {
		return xerrors.New(xerrors.KindIO, "acquiring store lock", err)
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	prev, existed := s.sources[meta.URL]
	s.sources[meta.URL] = meta
	s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		s.mu.Lock()
		if existed {
			s.sources[meta.URL] = prev
		} else {
			delete(s.sources, meta.URL)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Update applies fn to a snapshot of the metadata for url (creating one with
// the given default tier if absent), then atomically persists the result.
func (s *Store) Update(url string, defaultTier model.Tier, fn func(*model.SourceMetadata)) error {
	s.mu.Lock()
	meta, ok := s.sources[url]
	if !ok {
		meta = model.NewSourceMetadata(url, defaultTier)
	} else {
		copy := *meta
		meta = &copy
	}
	s.mu.Unlock()

	fn(meta)
	return s.AddAtomic(meta)
}

// Blacklist marks a source blacklisted and persists it.
func (s *Store) Blacklist(url string) error {
	return s.Update(url, model.TierExperimental, func(m *model.SourceMetadata) {
		m.IsBlacklisted = true
	})
}

// Whitelist clears a source's blacklist flag and persists it.
func (s *Store) Whitelist(url string) error {
	return s.Update(url, model.TierExperimental, func(m *model.SourceMetadata) {
		m.IsBlacklisted = false
	})
}

// CleanupOlderThan prunes history entries older than the cutoff from every
// source and persists the result.
func (s *Store) CleanupOlderThan(days int) error {
	if err := s.lock.Lock(); err != nil {
		return xerrors.New(xerrors.KindIO, "acquiring store lock", err)
	}
	defer s.lock.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)

	s.mu.Lock()
	for _, m := range s.sources {
		kept := m.History[:0:0]
		for _, h := range m.History {
			if h.Timestamp.After(cutoff) {
				kept = append(kept, h)
			}
		}
		m.History = kept
	}
	s.mu.Unlock()

	return s.persistLocked()
}

// persistLocked writes both files atomically. Callers must hold s.lock.
func (s *Store) persistLocked() error {
	s.mu.RLock()
	doc := sourcesDoc{Sources: map[string]tierGroup{}}
	performance := map[string]performanceEntry{}
	for url, m := range s.sources {
		group := doc.Sources[string(m.Tier)]
		group.URLs = append(group.URLs, url)
		doc.Sources[string(m.Tier)] = group

		performance[url] = performanceEntry{
			Tier:             m.Tier,
			Weight:           m.Weight,
			LastCheck:        m.LastCheck,
			SuccessCount:     m.SuccessCount,
			FailureCount:     m.FailureCount,
			AvgResponseTimeS: m.AvgResponseTimeS,
			AvgConfigCount:   m.AvgConfigCount,
			ReputationScore:  m.ReputationScore,
			History:          m.History,
			IsBlacklisted:    m.IsBlacklisted,
			State:            m.State,
			ConsecutiveOK:    m.ConsecutiveOK,
			ConsecutiveFail:  m.ConsecutiveFail,
		}
	}
	s.mu.RUnlock()

	yamlBytes, err := yaml.Marshal(doc)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "marshaling sources.yaml", err)
	}
	jsonBytes, err := json.MarshalIndent(performance, "", "  ")
	if err != nil {
		return xerrors.New(xerrors.KindIO, "marshaling source_performance.json", err)
	}

	if err := atomicWrite(s.sourcesPath, yamlBytes); err != nil {
		return err
	}
	return atomicWrite(s.performancePath, jsonBytes)
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so readers see either the old or new file, never a
// partial one.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return xerrors.New(xerrors.KindIO, "creating temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return xerrors.New(xerrors.KindIO, "writing temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return xerrors.New(xerrors.KindIO, "syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "closing temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return xerrors.New(xerrors.KindIO, "renaming temp file into place", err)
	}
	return nil
}

// AtomicWrite is exported for other packages (pkg/output) that need the
// same write-temp-then-rename discipline.
func AtomicWrite(path string, data []byte) error {
	return atomicWrite(path, data)
}
