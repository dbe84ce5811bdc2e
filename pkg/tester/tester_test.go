package tester

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/model"
)

func TestTestAllMarksReachableListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r := &model.ConfigResult{Protocol: model.ProtocolShadowsocks, Host: host, Port: port}

	tester := New(Config{})
	tester.TestAll(context.Background(), []*model.ConfigResult{r})

	assert.True(t, r.IsReachable)
	require.NotNil(t, r.PingTimeS)
	assert.GreaterOrEqual(t, *r.PingTimeS, 0.0)
}

func TestTestAllMarksUnreachableClosedPort(t *testing.T) {
	r := &model.ConfigResult{Protocol: model.ProtocolShadowsocks, Host: "127.0.0.1", Port: 1}

	tester := New(Config{Timeout: 0})
	tester.TestAll(context.Background(), []*model.ConfigResult{r})

	assert.False(t, r.IsReachable)
}

func TestTestAllRunsAppProbesOnceAndAppliesToEveryResult(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	r1 := &model.ConfigResult{Protocol: model.ProtocolShadowsocks, Host: "127.0.0.1", Port: 1}
	r2 := &model.ConfigResult{Protocol: model.ProtocolShadowsocks, Host: "127.0.0.1", Port: 1}

	tr := New(Config{
		AppProbes: map[string]string{"up": up.URL, "down": down.URL},
	})
	tr.TestAll(context.Background(), []*model.ConfigResult{r1, r2})

	for _, r := range []*model.ConfigResult{r1, r2} {
		require.NotNil(t, r.AppTestResults["up"])
		assert.True(t, *r.AppTestResults["up"])
		require.NotNil(t, r.AppTestResults["down"])
		assert.False(t, *r.AppTestResults["down"])
	}
}

func TestTestAllLeavesAppTestResultsNilWithoutProbesConfigured(t *testing.T) {
	r := &model.ConfigResult{Protocol: model.ProtocolShadowsocks, Host: "127.0.0.1", Port: 1}
	tr := New(Config{})
	tr.TestAll(context.Background(), []*model.ConfigResult{r})
	assert.Nil(t, r.AppTestResults)
}
