package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	invalidated []string
	allCalls    int
	err         error
}

func (f *fakeCache) Invalidate(ctx context.Context, agentID string) error {
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, agentID)
	return nil
}

func (f *fakeCache) InvalidateAll(ctx context.Context) (int, error) {
	f.allCalls++
	return 0, f.err
}

func startTestServer(t *testing.T, cache CacheInvalidator) (*Server, string) {
	t.Helper()
	s := NewServer("127.0.0.1:0", NewRegistry(), cache, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, fmt.Sprintf("http://%s", s.Addr())
}

func TestHealthAndReadyReturnExpectedBodies(t *testing.T) {
	_, base := startTestServer(t, nil)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])

	resp2, err := http.Get(base + "/ready")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var ready map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&ready))
	assert.Equal(t, "ready", ready["status"])
}

func TestCacheInvalidateSpecificAgent(t *testing.T) {
	cache := &fakeCache{}
	_, base := startTestServer(t, cache)

	resp, err := http.Post(base+"/api/v1/cache/invalidate?agent=a1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "a1", body["invalidated"])
	assert.Contains(t, cache.invalidated, "a1")
}

func TestCacheInvalidateAllAgents(t *testing.T) {
	cache := &fakeCache{}
	_, base := startTestServer(t, cache)

	resp, err := http.Post(base+"/api/v1/cache/invalidate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 1, cache.allCalls)
}

func TestCacheInvalidateWithoutCacheConfiguredReturns503(t *testing.T) {
	_, base := startTestServer(t, nil)

	resp, err := http.Post(base+"/api/v1/cache/invalidate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, base := startTestServer(t, nil)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
