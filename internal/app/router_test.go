package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/profarm-erp/profarm-erp/internal/observability"
)

func testConfig() *Config {
	return &Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
	}
}

func TestHealthzReportsOK(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	router := NewRouter(RouterParams{
		Logger: NewLogger(testConfig()),
		Config: testConfig(),
		Redis:  redisClient,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestHealthzDegradedWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	router := NewRouter(RouterParams{
		Logger: NewLogger(testConfig()),
		Config: testConfig(),
		Redis:  redisClient,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	mr.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  NewLogger(testConfig()),
		Config:  testConfig(),
		Metrics: observability.NewMetrics(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
