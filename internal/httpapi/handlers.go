package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/rule"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
)

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RuleFilter{
		OwnerGroup: q.Get("owner_group"),
		Status:     model.RuleStatus(q.Get("status")),
	}

	rules, err := a.store.ListRules(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}

	out, err := a.store.GetRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in rule.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, brmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	created, err := a.rules.Create(r.Context(), actorFromRequest(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}

	var in rule.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, brmerrors.InvalidInput("body", "malformed JSON"))
		return
	}
	in.RuleID = ruleID

	updated, err := a.rules.Update(r.Context(), actorFromRequest(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if err := a.rules.Delete(r.Context(), actorFromRequest(r), ruleID, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	updated, err := a.rules.Deactivate(r.Context(), actorFromRequest(r), ruleID, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleForceActivateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}

	updated, err := a.rules.ForceActivate(r.Context(), actorFromRequest(r), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}

	var body struct {
		TTLSeconds int  `json:"ttl_seconds"`
		Force      bool `json:"force"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	ttl := time.Duration(body.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	actor := actorFromRequest(r)

	if body.Force {
		if !actor.IsAdmin(a.adminGroup) {
			writeError(w, brmerrors.AccessDenied("only an admin may force-acquire a lock"))
			return
		}
		if err := a.locks.ForceAcquire(r.Context(), ruleID, actor.User, ttl); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"acquired": true})
		return
	}

	acquired, held, err := a.locks.Acquire(r.Context(), ruleID, actor.User, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	if !acquired {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"acquired": false, "held_by": held})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acquired": true})
}

func (a *API) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}

	if err := a.locks.Release(r.Context(), ruleID, actorFromRequest(r), a.adminGroup); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.handlePipelineDecision(w, r, a.rules.Approve)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.handlePipelineDecision(w, r, a.rules.Reject)
}

func (a *API) handlePipelineDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, ruleID int64, actionType model.ActionType, group, user string) error) {
	ruleID, err := ruleIDFromPath(r)
	if err != nil {
		writeError(w, brmerrors.InvalidInput("id", "must be an integer rule id"))
		return
	}
	actionType := model.ActionType(mux.Vars(r)["action"])
	actor := actorFromRequest(r)

	if err := decide(r.Context(), ruleID, actionType, actor.Group, actor.User); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RuleIDs         []int64 `json:"rule_ids"`
		SkipValidations bool    `json:"skip_validations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, brmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := a.exec.Execute(r.Context(), body.RuleIDs, body.SkipValidations)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RuleID             int64     `json:"rule_id"`
		FireAt             time.Time `json:"fire_at"`
		RunDataValidations bool      `json:"run_data_validations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, brmerrors.InvalidInput("body", "malformed JSON"))
		return
	}

	sc, err := a.store.CreateSchedule(r.Context(), &model.Schedule{
		RuleID:             body.RuleID,
		FireAt:             body.FireAt,
		Status:             model.ScheduleScheduled,
		RunDataValidations: body.RunDataValidations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}
