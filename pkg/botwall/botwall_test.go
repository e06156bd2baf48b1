package botwall

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/detectors/useragent"
	"github.com/nodeforge/botwall/internal/detect/policy"
)

func fullBandActions() map[string]policy.ActionKind {
	return map[string]policy.ActionKind{
		"VeryLow": policy.ActionAllow, "Low": policy.ActionAllow, "Medium": policy.ActionLog,
		"High": policy.ActionThrottle, "VeryHigh": policy.ActionChallenge, "Verified": policy.ActionAllow,
	}
}

func setDefaultPolicy(t *testing.T, engine *Engine, bandActions map[string]policy.ActionKind) {
	t.Helper()
	require.NoError(t, engine.Policies.SetDefault(policy.DetectionPolicy{Name: "default", WaveBudgetMs: 200, ActionPolicyName: "default"}))
	require.NoError(t, engine.Policies.RegisterActionPolicy(policy.ActionPolicy{Name: "default", BandActions: bandActions}))
	engine.Policies.SetDefaultActionPolicyName("default")
}

func TestEngineMiddlewareSetsWireHeaders(t *testing.T) {
	engine, err := New([]byte("0123456789abcdef0123456789abcdef"), 8, useragent.New())
	require.NoError(t, err)
	setDefaultPolicy(t, engine, fullBandActions())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := engine.Middleware(next, behavior.CohortKey{Cluster: "default"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Bot-Detection"))
	assert.NotEmpty(t, rec.Header().Get("X-Bot-Probability"))
	assert.NotEmpty(t, rec.Header().Get("X-Bot-Risk-Band"))
	assert.NotEmpty(t, rec.Header().Get("X-Bot-Detection-Time"))
	assert.NotEmpty(t, rec.Header().Get("X-Signature-ID"))
	assert.Empty(t, rec.Header().Get("X-Bot-Request-Id"))
}

func TestEngineMiddlewareOptInDetectionReasons(t *testing.T) {
	engine, err := New([]byte("0123456789abcdef0123456789abcdef"), 8, useragent.New())
	require.NoError(t, err)
	setDefaultPolicy(t, engine, fullBandActions())
	engine.IncludeDetectionReasons = true

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := engine.Middleware(next, behavior.CohortKey{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Bot-Detection-Reasons"))
}

func TestEngineMiddlewareBlocksHighRisk(t *testing.T) {
	engine, err := New([]byte("0123456789abcdef0123456789abcdef"), 8, useragent.New())
	require.NoError(t, err)

	ba := fullBandActions()
	ba["High"] = policy.ActionBlock
	ba["VeryHigh"] = policy.ActionBlock
	setDefaultPolicy(t, engine, ba)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := engine.Middleware(next, behavior.CohortKey{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestEngineMiddlewareUsesGlobalDefaultActionPolicyWhenPolicyNamesNone(t *testing.T) {
	engine, err := New([]byte("0123456789abcdef0123456789abcdef"), 8, useragent.New())
	require.NoError(t, err)
	// No transitions and no per-policy ActionPolicyName: triggered name
	// resolves to the registry's global default.
	require.NoError(t, engine.Policies.SetDefault(policy.DetectionPolicy{Name: "default", WaveBudgetMs: 200}))
	require.NoError(t, engine.Policies.RegisterActionPolicy(policy.ActionPolicy{Name: "default", BandActions: fullBandActions()}))
	engine.Policies.SetDefaultActionPolicyName("default")

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := engine.Middleware(next, behavior.CohortKey{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/129.0.0.0")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, called)
}
