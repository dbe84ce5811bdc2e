package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankDedupesAndSortsDescending(t *testing.T) {
	now := time.Now()
	candidates := []Discovered{
		{URL: "https://example.com/temp/sub.txt", Method: MethodSeed},
		{URL: "https://example.com/official/config.yaml", Method: MethodSeed},
		{URL: "https://example.com/official/config.yaml", Method: MethodSeed},
	}

	ranked := Rank(candidates, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://example.com/official/config.yaml", ranked[0].URL)
	assert.Greater(t, ranked[0].DiscoveryScore, ranked[1].DiscoveryScore)
}

func TestScoreRewardsGithubSignals(t *testing.T) {
	now := time.Now()
	popular := Discovered{
		URL: "https://raw.githubusercontent.com/foo/bar/main/sub/config.txt", Method: MethodGithub,
		Stars: 500, Forks: 100, Language: "Go", UpdatedAt: now.Add(-24 * time.Hour),
	}
	obscure := Discovered{
		URL: "https://raw.githubusercontent.com/foo/baz/main/sub/config.txt", Method: MethodGithub,
		Stars: 0, Forks: 0,
	}

	assert.Greater(t, score(popular, now), score(obscure, now))
}

func TestIsSubscriptionPath(t *testing.T) {
	assert.True(t, isSubscriptionPath("configs/sub.txt"))
	assert.True(t, isSubscriptionPath("v2ray/nodes.yaml"))
	assert.False(t, isSubscriptionPath("README.md"))
}

func TestExtractSubscriptionURLs(t *testing.T) {
	text := "check this out https://example.com/sub/abc and also https://example.com/sub/abc again"
	urls := ExtractSubscriptionURLs(text)
	assert.Len(t, urls, 1)
	assert.Equal(t, "https://example.com/sub/abc", urls[0])
}

func TestLoadChannelListStripsPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://t.me/freeconfigs\nplainchannel\n\n"), 0o644))

	channels, err := LoadChannelList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"freeconfigs", "plainchannel"}, channels)
}

func TestLoadChannelListMissingFileIsNotError(t *testing.T) {
	channels, err := LoadChannelList(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Nil(t, channels)
}

func TestScrapeChannelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.txt")
	require.NoError(t, os.WriteFile(path, []byte("new sub: https://example.com/sub/xyz.txt join now"), 0o644))

	found, err := ScrapeChannelFile("freeconfigs", path)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, MethodTelegram, found[0].Method)
	assert.Equal(t, "https://example.com/sub/xyz.txt", found[0].URL)
}

func TestLoadSeedList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := "sources:\n  premium:\n    urls:\n      - https://example.com/a.txt\n  bulk:\n    urls:\n      - https://example.com/b.txt\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sources, err := LoadSeedList(path)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}
