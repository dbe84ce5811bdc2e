package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/model"
)

func TestAddAtomicPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	meta := model.NewSourceMetadata("https://s1.example/a.txt", model.TierPremium)
	require.NoError(t, s.AddAtomic(meta))

	reopened, err := Open(dir)
	require.NoError(t, err)

	got, ok := reopened.Get("https://s1.example/a.txt")
	require.True(t, ok)
	assert.Equal(t, model.TierPremium, got.Tier)
}

func TestBlacklistWhitelistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.Blacklist("https://s1.example/a.txt"))
	got, ok := s.Get("https://s1.example/a.txt")
	require.True(t, ok)
	assert.True(t, got.IsBlacklisted)

	require.NoError(t, s.Whitelist("https://s1.example/a.txt"))
	got, ok = s.Get("https://s1.example/a.txt")
	require.True(t, ok)
	assert.False(t, got.IsBlacklisted)
}
