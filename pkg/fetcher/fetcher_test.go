package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("trojan://pw@host.example:443#tag"))
	}))
	defer srv.Close()

	f, err := New(Config{Retries: 0})
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, body, "trojan://")
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	f, err := New(Config{Retries: 0, MaxBodyBytes: 4})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := New(Config{Retries: 0, FailureThreshold: 3, Cooldown: time.Hour, RateLimit: 1000, RateBurst: 1000})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = f.Fetch(context.Background(), srv.URL)
	}
	assert.Equal(t, "open", f.BreakerState(hostOf(t, srv.URL)))

	callsBefore := calls
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, callsBefore, calls, "breaker should short-circuit without issuing a new request")
}

func TestCircuitBreakerStopsRetriesWithinSameFetchCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := New(Config{
		Retries:          5,
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		RateLimit:        1000,
		RateBurst:        1000,
	})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3, "breaker should open mid-retry-loop and stop issuing further attempts")
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return u.URL.Hostname()
}
