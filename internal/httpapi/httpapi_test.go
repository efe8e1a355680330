package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/brm-core/internal/approval"
	"github.com/r3e-labs/brm-core/internal/cache"
	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/httpapi"
	"github.com/r3e-labs/brm-core/internal/lock"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/notifier"
	"github.com/r3e-labs/brm-core/internal/rule"
	"github.com/r3e-labs/brm-core/internal/sqlanalyzer"
	"github.com/r3e-labs/brm-core/internal/store/storetest"
	"github.com/r3e-labs/brm-core/internal/validation"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
	"github.com/r3e-labs/brm-core/pkg/ratelimit"
)

func newTestAPI(t *testing.T) (*httpapi.API, *storetest.Store) {
	t.Helper()

	s := storetest.New()
	log := logger.New(logger.Config{Level: "error"})
	m := metrics.NewWithRegistry("brm-test", "test", prometheus.NewRegistry())
	locks := lock.New(s, cache.NewInMemoryCache(context.Background(), cache.DefaultConfig()), log, m)
	approvals := approval.New(s, log, m)
	rules := rule.New(rule.Config{
		Store:      s,
		Analyzer:   sqlanalyzer.NewDefaultAnalyzer(),
		Locks:      locks,
		Approvals:  approvals,
		Notifier:   notifier.NewLogNotifier(log),
		Log:        log,
		Metrics:    m,
		AdminGroup: "admins",
	})
	graphs := dependency.New(s)
	validator := validation.New(s, 100)
	exec := executor.New(s, graphs, validator, log, m)

	api := httpapi.New(httpapi.Config{
		Store:     s,
		Rules:     rules,
		Approvals: approvals,
		Locks:     locks,
		Exec:      exec,
		Log:       log,
		Metrics:   m,
		RateLimit: ratelimit.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			Window:            ratelimit.DefaultConfig().Window,
		},
		AdminGroup: "admins",
	})
	return api, s
}

func TestHealthzAlwaysReportsOK(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsReadyWhenStorePings(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRuleThenGetRuleRoundTrips(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedGroup("engineering", "reviewer1")

	body, _ := json.Marshal(rule.CreateInput{
		Name:       "flag_stale_orders",
		OwnerGroup: "engineering",
		SQLText:    "SELECT 1",
	})
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(body))
	req.Header.Set("X-Actor-User", "alice")
	req.Header.Set("X-Actor-Group", "engineering")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.RuleID)

	getReq := httptest.NewRequest(http.MethodGet, "/rules/1", nil)
	getRec := httptest.NewRecorder()
	api.Router().ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestCreateRuleRejectsMissingName(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedGroup("engineering", "reviewer1")

	body, _ := json.Marshal(rule.CreateInput{OwnerGroup: "engineering"})
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(body))
	req.Header.Set("X-Actor-User", "alice")
	req.Header.Set("X-Actor-Group", "engineering")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRuleReturnsNotFoundForUnknownID(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/rules/999", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcquireAndReleaseLock(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedGroup("engineering", "reviewer1")

	createBody, _ := json.Marshal(rule.CreateInput{Name: "r1", OwnerGroup: "engineering", SQLText: "SELECT 1"})
	createReq := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(createBody))
	createReq.Header.Set("X-Actor-User", "alice")
	createReq.Header.Set("X-Actor-Group", "engineering")
	createRec := httptest.NewRecorder()
	api.Router().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	lockBody, _ := json.Marshal(map[string]interface{}{"ttl_seconds": 60})
	lockReq := httptest.NewRequest(http.MethodPost, "/rules/1/lock", bytes.NewReader(lockBody))
	lockReq.Header.Set("X-Actor-User", "alice")
	lockRec := httptest.NewRecorder()
	api.Router().ServeHTTP(lockRec, lockReq)
	require.Equal(t, http.StatusOK, lockRec.Code)

	releaseReq := httptest.NewRequest(http.MethodDelete, "/rules/1/lock", nil)
	releaseReq.Header.Set("X-Actor-User", "alice")
	releaseRec := httptest.NewRecorder()
	api.Router().ServeHTTP(releaseRec, releaseReq)
	require.Equal(t, http.StatusNoContent, releaseRec.Code)
}

func TestDeactivateAndForceActivateRoutesAreReachable(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedGroup("engineering", "reviewer1")

	createBody, _ := json.Marshal(rule.CreateInput{Name: "r1", OwnerGroup: "engineering", SQLText: "SELECT 1"})
	createReq := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(createBody))
	createReq.Header.Set("X-Actor-User", "admin")
	createReq.Header.Set("X-Actor-Group", "admins")
	createRec := httptest.NewRecorder()
	api.Router().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	deactivateReq := httptest.NewRequest(http.MethodPost, "/rules/1/deactivate?force=true", nil)
	deactivateReq.Header.Set("X-Actor-User", "admin")
	deactivateReq.Header.Set("X-Actor-Group", "admins")
	deactivateRec := httptest.NewRecorder()
	api.Router().ServeHTTP(deactivateRec, deactivateReq)
	require.Equal(t, http.StatusOK, deactivateRec.Code)

	activateReq := httptest.NewRequest(http.MethodPost, "/rules/1/force-activate", nil)
	activateReq.Header.Set("X-Actor-User", "admin")
	activateReq.Header.Set("X-Actor-Group", "admins")
	activateRec := httptest.NewRecorder()
	api.Router().ServeHTTP(activateRec, activateReq)
	require.Equal(t, http.StatusOK, activateRec.Code)

	var activated model.Rule
	require.NoError(t, json.Unmarshal(activateRec.Body.Bytes(), &activated))
	require.Equal(t, model.StatusActive, activated.Status)
}

func TestForceActivateRejectsNonAdmin(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedGroup("engineering", "reviewer1")

	createBody, _ := json.Marshal(rule.CreateInput{Name: "r1", OwnerGroup: "engineering", SQLText: "SELECT 1"})
	createReq := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(createBody))
	createReq.Header.Set("X-Actor-User", "alice")
	createReq.Header.Set("X-Actor-Group", "engineering")
	createRec := httptest.NewRecorder()
	api.Router().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	activateReq := httptest.NewRequest(http.MethodPost, "/rules/1/force-activate", nil)
	activateReq.Header.Set("X-Actor-User", "alice")
	activateReq.Header.Set("X-Actor-Group", "engineering")
	activateRec := httptest.NewRecorder()
	api.Router().ServeHTTP(activateRec, activateReq)
	require.Equal(t, http.StatusForbidden, activateRec.Code)
}

func TestNotFoundResponseIsJSON(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/rules/999", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestExecuteEndpointReturnsResult(t *testing.T) {
	api, s := newTestAPI(t)
	s.SeedSQLOutcome("SELECT 1", true, 0, nil)

	body, _ := json.Marshal(map[string]interface{}{"rule_ids": []int64{}})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
}
