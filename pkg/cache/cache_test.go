package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStrictLRUEvictsLeastRecentlyUsed(t *testing.T) {
	lru := newStrictLRU(2, 0)
	lru.Set("a", []byte("1"), 0)
	lru.Set("b", []byte("2"), 0)
	lru.Get("a") // touch a, making b the LRU candidate
	lru.Set("c", []byte("3"), 0)

	_, aOK := lru.Get("a")
	_, bOK := lru.Get("b")
	_, cOK := lru.Get("c")

	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestCacheL1GetSetRoundTrip(t *testing.T) {
	c := New(Config{L1MaxEntries: 10})
	defer c.Close()

	c.Set("k", []byte("v"), time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestCacheExpiredEntryNotReturned(t *testing.T) {
	c := New(Config{L1MaxEntries: 10})
	defer c.Close()

	c.Set("k", []byte("v"), time.Nanosecond)
	time.Sleep(time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("a", "c"))
}

func TestHitRate(t *testing.T) {
	s := Stats{L1Hits: 3, L1Misses: 1}
	assert.Equal(t, 0.75, s.HitRate())
}

func TestManyEntriesRespectCountBound(t *testing.T) {
	lru := newStrictLRU(5, 0)
	for i := 0; i < 20; i++ {
		lru.Set(strconv.Itoa(i), []byte{byte(i)}, 0)
	}
	assert.Equal(t, 5, lru.Len())
}
