// Package httpapi exposes the Rule Lifecycle, Approval, Lock, Executor,
// and Scheduler operations as a gorilla/mux JSON surface. The core never
// authenticates callers; actor identity arrives as X-Actor-User and
// X-Actor-Group headers, established upstream by a gateway or UI.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-labs/brm-core/internal/approval"
	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/lock"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/rule"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
	"github.com/r3e-labs/brm-core/pkg/ratelimit"
)

// Config bundles the API's collaborators.
type Config struct {
	Store      store.Store
	Rules      *rule.Lifecycle
	Approvals  *approval.Machine
	Locks      *lock.Manager
	Exec       *executor.Executor
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	RateLimit  ratelimit.RateLimitConfig
	AdminGroup string
}

// API wires the Operations API's HTTP router.
type API struct {
	store      store.Store
	rules      *rule.Lifecycle
	approvals  *approval.Machine
	locks      *lock.Manager
	exec       *executor.Executor
	log        *logger.Logger
	metrics    *metrics.Metrics
	limiters   *remoteLimiters
	adminGroup string
	router     *mux.Router
}

// New constructs an API and registers every route.
func New(cfg Config) *API {
	a := &API{
		store:      cfg.Store,
		rules:      cfg.Rules,
		approvals:  cfg.Approvals,
		locks:      cfg.Locks,
		exec:       cfg.Exec,
		log:        cfg.Log,
		metrics:    cfg.Metrics,
		limiters:   newRemoteLimiters(cfg.RateLimit),
		adminGroup: cfg.AdminGroup,
	}
	a.router = mux.NewRouter()
	a.router.Use(metricsMiddleware(a.metrics))
	a.registerRoutes()
	return a
}

// Router returns the underlying mux.Router for use with net/http.Server.
func (a *API) Router() *mux.Router {
	return a.router
}

func (a *API) registerRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.handleReadyz).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.router.HandleFunc("/rules", a.handleListRules).Methods(http.MethodGet)
	a.router.HandleFunc("/rules", a.rateLimited(a.handleCreateRule)).Methods(http.MethodPost)
	a.router.HandleFunc("/rules/{id}", a.handleGetRule).Methods(http.MethodGet)
	a.router.HandleFunc("/rules/{id}", a.rateLimited(a.handleUpdateRule)).Methods(http.MethodPut)
	a.router.HandleFunc("/rules/{id}", a.rateLimited(a.handleDeleteRule)).Methods(http.MethodDelete)

	a.router.HandleFunc("/rules/{id}/deactivate", a.rateLimited(a.handleDeactivateRule)).Methods(http.MethodPost)
	a.router.HandleFunc("/rules/{id}/force-activate", a.rateLimited(a.handleForceActivateRule)).Methods(http.MethodPost)

	a.router.HandleFunc("/rules/{id}/lock", a.rateLimited(a.handleAcquireLock)).Methods(http.MethodPost)
	a.router.HandleFunc("/rules/{id}/lock", a.rateLimited(a.handleReleaseLock)).Methods(http.MethodDelete)

	a.router.HandleFunc("/rules/{id}/approvals/{action}/approve", a.rateLimited(a.handleApprove)).Methods(http.MethodPost)
	a.router.HandleFunc("/rules/{id}/approvals/{action}/reject", a.rateLimited(a.handleReject)).Methods(http.MethodPost)

	a.router.HandleFunc("/execute", a.rateLimited(a.handleExecute)).Methods(http.MethodPost)
	a.router.HandleFunc("/schedules", a.rateLimited(a.handleCreateSchedule)).Methods(http.MethodPost)
}

// rateLimited throttles a mutation handler per remote address.
func (a *API) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiters.forAddr(r.RemoteAddr).Allow() {
			writeError(w, brmerrors.New(brmerrors.CodeInvalidInput, "rate limit exceeded", http.StatusTooManyRequests))
			return
		}
		next(w, r)
	}
}

func actorFromRequest(r *http.Request) model.Actor {
	return model.Actor{
		User:  r.Header.Get("X-Actor-User"),
		Group: r.Header.Get("X-Actor-Group"),
	}
}

func ruleIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	be := brmerrors.As(err)
	if be == nil {
		be = brmerrors.Wrap(brmerrors.CodeBackendError, "unexpected error", http.StatusInternalServerError, err)
	}
	writeJSON(w, be.HTTPStatus, be)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
