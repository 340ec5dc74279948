package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("GIN_MODE", "test")

	cfg, _, err := config.Load(config.New())
	require.NoError(t, err)
	cfg.Server.RateLimitRPS = 0

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	backend, err := store.Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tokens := identity.NewTokenIssuer(key, "https://stayward.test", time.Hour)

	return newApp(ctx, cfg, backend, tokens, nil, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t)
	a.health.CheckAll(context.Background())

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string   `json:"status"`
		Checked []string `json:"checked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"audit_chain", "database"}, body.Checked)
}

type brokenLedger struct{ auditledger.Ledger }

func (brokenLedger) Verify(context.Context) (*auditledger.IntegrityReport, error) {
	return &auditledger.IntegrityReport{Valid: false, OffendingIDs: []string{"e1"}, Entries: 3}, nil
}

func TestHealthzDegradesOnBrokenChain(t *testing.T) {
	a := newTestApp(t)
	a.store.Ledger = brokenLedger{a.store.Ledger}

	a.health.CheckAll(context.Background())

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "1 of 3 entries fail verification")
}

func TestSecurityHeaders(t *testing.T) {
	a := newTestApp(t)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stays/missing", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContainsWildcard(t *testing.T) {
	assert.True(t, containsWildcard([]string{"https://a.example", " * "}))
	assert.False(t, containsWildcard([]string{"https://a.example"}))
	assert.False(t, containsWildcard(nil))
}
