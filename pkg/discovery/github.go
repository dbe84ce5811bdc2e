package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/xerrors"
)

var defaultSearchQueries = []string{
	"v2ray subscription",
	"clash config stars:>10",
	"vmess vless trojan base64",
	"sing-box subscribe json",
	"hysteria2 config",
	"reality vless config",
	"vpn subscription list",
	"proxy config collection",
}

type githubSearchResponse struct {
	Items []githubSearchItem `json:"items"`
}

type githubSearchItem struct {
	Path       string               `json:"path"`
	Repository githubRepositoryInfo `json:"repository"`
}

type githubRepositoryInfo struct {
	FullName        string   `json:"full_name"`
	StargazersCount int      `json:"stargazers_count"`
	ForksCount      int      `json:"forks_count"`
	Language        string   `json:"language"`
	Topics          []string `json:"topics"`
	UpdatedAt       string   `json:"updated_at"`
}

// GithubSearchClient runs GitHub code search queries looking for
// subscription-shaped files, respecting GitHub's secondary rate limits via
// the response's X-RateLimit-Remaining/Reset headers.
type GithubSearchClient struct {
	token      string
	httpClient *http.Client
	queries    []string

	rateLimitRemaining int
	rateLimitReset     time.Time
}

// NewGithubSearchClient builds a client. An empty token degrades every
// Search call to a no-op (matching the original tool's "limited discovery
// without a token" behavior) rather than failing the pipeline.
func NewGithubSearchClient(token string) *GithubSearchClient {
	return &GithubSearchClient{
		token:              token,
		httpClient:         &http.Client{Timeout: 15 * time.Second},
		queries:            defaultSearchQueries,
		rateLimitRemaining: 5000,
	}
}

// Search runs every configured GitHub code search query, asking each for
// maxResults/len(queries) results (at least 1), and returns the candidates.
func (c *GithubSearchClient) Search(ctx context.Context, maxResults int) ([]Discovered, error) {
	if c.token == "" {
		log.Debug("github discovery skipped", "reason", "no token configured")
		return nil, errNoGithubToken
	}

	perQuery := maxResults / len(c.queries)
	if perQuery < 1 {
		perQuery = 1
	}

	var all []Discovered
	for _, q := range c.queries {
		if c.isRateLimited() {
			if err := c.waitForRateLimit(ctx); err != nil {
				return all, err
			}
		}

		items, err := c.searchOne(ctx, q, perQuery)
		if err != nil {
			log.Warn("github search query failed", "query", q, "error", err.Error())
			continue
		}
		all = append(all, items...)
	}
	return all, nil
}

func (c *GithubSearchClient) searchOne(ctx context.Context, query string, perPage int) ([]Discovered, error) {
	if perPage > 100 {
		perPage = 100
	}

	u := fmt.Sprintf("https://api.github.com/search/code?q=%s&per_page=%d&sort=updated",
		url.QueryEscape(query), perPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindConfig, "building github search request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.New(xerrors.KindNetwork, "github search request failed", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.KindNetwork, fmt.Sprintf("github search returned status %d", resp.StatusCode), nil)
	}

	var parsed githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, xerrors.New(xerrors.KindParse, "decoding github search response", err)
	}

	out := make([]Discovered, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if !isSubscriptionPath(item.Path) {
			continue
		}
		rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/main/%s", item.Repository.FullName, item.Path)
		updated, _ := time.Parse(time.RFC3339, item.Repository.UpdatedAt)
		out = append(out, Discovered{
			URL:          rawURL,
			Method:       MethodGithub,
			RepoFullName: item.Repository.FullName,
			Stars:        item.Repository.StargazersCount,
			Forks:        item.Repository.ForksCount,
			Language:     item.Repository.Language,
			Topics:       item.Repository.Topics,
			UpdatedAt:    updated,
		})
	}
	return out, nil
}

func (c *GithubSearchClient) isRateLimited() bool {
	return c.rateLimitRemaining <= 10
}

func (c *GithubSearchClient) updateRateLimit(h http.Header) {
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.rateLimitRemaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.rateLimitReset = time.Unix(n, 0)
		}
	}
}

func (c *GithubSearchClient) waitForRateLimit(ctx context.Context) error {
	if c.rateLimitReset.IsZero() {
		return nil
	}
	wait := time.Until(c.rateLimitReset)
	if wait <= 0 {
		return nil
	}
	log.Info("github rate limit reached, waiting", "seconds", int(wait.Seconds()))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return xerrors.New(xerrors.KindCancelled, "context cancelled while waiting for github rate limit", ctx.Err())
	case <-timer.C:
		return nil
	}
}
