// Package cache provides the pipeline's two-tier cache: an in-process
// strict-LRU L1 and an optional L2 backed by fastcache with a hand-rolled
// TTL envelope (fastcache itself has no TTL notion). L2 failures are
// opportunistic and never fail a Get/Set.
package cache

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	sha256simd "github.com/minio/sha256-simd"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
)

const (
	defaultL1MaxEntries = 1000
	defaultL1MaxBytes   = 100 * 1024 * 1024
	defaultSweepPeriod  = 60 * time.Second
)

// Stats tracks hit/miss counters per tier. Evictions is not incremented by
// Cache and always reads zero.
type Stats struct {
	L1Hits      int64
	L1Misses    int64
	L2Hits      int64
	L2Misses    int64
	L2Errors    int64
	Evictions   int64
}

// Config tunes cache bounds. L2Bytes == 0 disables the L2 tier.
type Config struct {
	L1MaxEntries int
	L1MaxBytes   int64
	L2Bytes      int
	SweepPeriod  time.Duration
}

// Cache is the tiered cache. Keys are opaque strings; values are raw bytes.
type Cache struct {
	l1    *strictLRU
	l2    *fastcache.Cache
	stats Stats

	stop chan struct{}
}

// New builds a Cache. If cfg.L2Bytes is 0 the L2 tier is omitted entirely.
func New(cfg Config) *Cache {
	if cfg.L1MaxEntries == 0 {
		cfg.L1MaxEntries = defaultL1MaxEntries
	}
	if cfg.L1MaxBytes == 0 {
		cfg.L1MaxBytes = defaultL1MaxBytes
	}
	if cfg.SweepPeriod == 0 {
		cfg.SweepPeriod = defaultSweepPeriod
	}

	c := &Cache{
		l1:   newStrictLRU(cfg.L1MaxEntries, cfg.L1MaxBytes),
		stop: make(chan struct{}),
	}
	if cfg.L2Bytes > 0 {
		c.l2 = fastcache.New(cfg.L2Bytes)
	}

	go c.sweepLoop(cfg.SweepPeriod)
	return c
}

func (c *Cache) sweepLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.l1.sweepExpired(time.Now())
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweeper.
func (c *Cache) Close() { close(c.stop) }

// Key hashes an arbitrary identifier into the cache's key space using
// sha256-simd (a drop-in, hardware-accelerated crypto/sha256).
func Key(parts ...string) string {
	h := sha256simd.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return string(h.Sum(nil))
}

// Get probes L1 first, then L2 (promoting an L2 hit into L1). A miss at
// both tiers returns (nil, false).
func (c *Cache) Get(key string) ([]byte, bool) {
	if v, ok := c.l1.Get(key); ok {
		atomic.AddInt64(&c.stats.L1Hits, 1)
		return v, true
	}
	atomic.AddInt64(&c.stats.L1Misses, 1)

	if c.l2 == nil {
		return nil, false
	}

	envelope := c.l2.Get(nil, []byte(key))
	if envelope == nil {
		atomic.AddInt64(&c.stats.L2Misses, 1)
		return nil, false
	}

	value, expiresAt, err := decodeEnvelope(envelope)
	if err != nil {
		atomic.AddInt64(&c.stats.L2Errors, 1)
		log.Warn("cache: corrupt L2 envelope", "error", err.Error())
		return nil, false
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		atomic.AddInt64(&c.stats.L2Misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.stats.L2Hits, 1)
	c.l1.Set(key, value, time.Until(expiresAt))
	return value, true
}

// Set writes through to both tiers.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	c.l1.Set(key, value, ttl)

	if c.l2 == nil {
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.l2.Set([]byte(key), encodeEnvelope(value, expiresAt))
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1Hits:   atomic.LoadInt64(&c.stats.L1Hits),
		L1Misses: atomic.LoadInt64(&c.stats.L1Misses),
		L2Hits:   atomic.LoadInt64(&c.stats.L2Hits),
		L2Misses: atomic.LoadInt64(&c.stats.L2Misses),
		L2Errors: atomic.LoadInt64(&c.stats.L2Errors),
	}
}

// HitRate returns the combined L1+L2 hit rate in [0,1].
func (s Stats) HitRate() float64 {
	hits := s.L1Hits + s.L2Hits
	total := s.L1Hits + s.L1Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// encodeEnvelope prefixes value with an 8-byte little-endian unix-nano
// expiry (0 meaning "no expiry"), since fastcache has no TTL of its own.
func encodeEnvelope(value []byte, expiresAt time.Time) []byte {
	var nano int64
	if !expiresAt.IsZero() {
		nano = expiresAt.UnixNano()
	}
	out := make([]byte, 8+len(value))
	binary.LittleEndian.PutUint64(out[:8], uint64(nano))
	copy(out[8:], value)
	return out
}

func decodeEnvelope(envelope []byte) ([]byte, time.Time, error) {
	if len(envelope) < 8 {
		return nil, time.Time{}, errShortEnvelope
	}
	nano := int64(binary.LittleEndian.Uint64(envelope[:8]))
	var expires time.Time
	if nano != 0 {
		expires = time.Unix(0, nano)
	}
	return envelope[8:], expires, nil
}

var errShortEnvelope = errors.New("cache: envelope shorter than TTL prefix")
