package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/config"
	"github.com/emberfall/hearth/internal/server"
	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/sqlite"
)

// startTestServer starts a server over an in-memory sqlite engine on a
// random port and registers cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	cfg.Server.Port = 0

	store, err := sqlite.Open(":memory:", storage.CompactionPolicy{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	addr, _ := server.Start(ctx, cfg, store, server.Options{})

	// Give the listener goroutine a moment to start serving.
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
		_ = store.Close()
	})

	return "http://" + addr
}

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: config.StorageConfig{DataPath: t.TempDir()},
		Security: config.SecurityConfig{
			SecurityMode: "development",
		},
	}
}

func TestServerStartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	addr := strings.TrimPrefix(baseURL, "http://")
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	assert.NotEmpty(t, host)
	assert.NotEqual(t, "0", port)
}

func TestHealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "sqlite", body["engine"])
}

func TestSecurityHeaders(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for name, value := range expected {
		assert.Equal(t, value, resp.Header.Get(name), "header %s", name)
	}
}

func TestCharacterEndpoints(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	// Create
	payload := `{"name":"Mira","profile":{"backstory":"a quiet archivist"}}`
	resp, err := http.Post(baseURL+"/api/characters", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	// Get
	resp, err = http.Get(baseURL + "/api/characters/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// List
	resp, err = http.Get(baseURL + "/api/characters")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	_ = resp.Body.Close()
	assert.Len(t, list, 1)

	// Patch
	req, _ := http.NewRequest(http.MethodPatch, baseURL+"/api/characters/"+id,
		strings.NewReader(`{"name":"Mira Vale"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Delete
	req, _ = http.NewRequest(http.MethodDelete, baseURL+"/api/characters/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	// Get after delete is a 404
	resp, err = http.Get(baseURL + "/api/characters/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSettingsEndpoints(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	req, _ := http.NewRequest(http.MethodPut, baseURL+"/api/settings/theme",
		bytes.NewReader([]byte(`{"mode":"dark"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(baseURL + "/api/settings/theme")
	require.NoError(t, err)
	var body struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "theme", body.Key)
	assert.JSONEq(t, `{"mode":"dark"}`, string(body.Value))

	resp, err = http.Get(baseURL + "/api/settings/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProductionModeRequiresAuth(t *testing.T) {
	const token = "test-secret-token-xyz123"
	cfg := devConfig(t)
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = token

	baseURL := startTestServer(t, cfg)

	t.Run("without auth header", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/memories")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("with valid auth header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/memories", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("with invalid auth header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/memories", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestStatsEndpoint(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	resp, err := http.Get(baseURL + "/api/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Engine       string         `json:"engine"`
		Tables       map[string]int `json:"tables"`
		Capabilities []string       `json:"capabilities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "sqlite", stats.Engine)
	assert.Contains(t, stats.Tables, "characters")
	assert.Contains(t, stats.Capabilities, "transactions")
	assert.Contains(t, stats.Capabilities, "snapshots")
}

func TestGracefulShutdown(t *testing.T) {
	cfg := devConfig(t)

	store, err := sqlite.Open(":memory:", storage.CompactionPolicy{})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _ := server.Start(ctx, cfg, store, server.Options{})
	time.Sleep(100 * time.Millisecond)
	baseURL := "http://" + addr

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	time.Sleep(200 * time.Millisecond)

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer checkCancel()
	req, _ := http.NewRequestWithContext(checkCtx, http.MethodGet, baseURL+"/api/health", nil)
	_, err = http.DefaultClient.Do(req)
	assert.Error(t, err, "server should stop responding after shutdown")
}

func TestUnknownRouteIs404(t *testing.T) {
	baseURL := startTestServer(t, devConfig(t))

	resp, err := http.Get(baseURL + "/nonexistent/route")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
