package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/store"
)

// handleToggle processes POST .../environments/{env}/toggle. A manual toggle
// clears both schedule fields and cancels pending transition handles.
func (a *API) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}

	principal := principalFrom(r.Context())
	err := a.store.Toggle(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), chi.URLParam(r, "env"), req.Enabled)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]bool{"enabled": req.Enabled})
}

// handleUpdateOverlay processes PATCH .../environments/{env}.
func (a *API) handleUpdateOverlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayUpdateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	principal := principalFrom(r.Context())
	err := a.store.UpdateOverlay(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), chi.URLParam(r, "env"), store.OverlayParams{
		Percentage:        req.Percentage,
		DefaultVariantKey: req.DefaultVariant,
		Metadata:          req.Metadata,
	})
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// handleSchedule processes POST .../environments/{env}/schedule and returns
// the new handle. A repeated schedule for the same kind supersedes the
// previous handle.
func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	principal := principalFrom(r.Context())
	handle, err := a.store.Schedule(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), chi.URLParam(r, "env"),
		store.TransitionKind(req.Kind), req.At)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ScheduleResponse{Handle: handle.String(), Kind: req.Kind, At: req.At})
}

// handleReplaceRules processes PUT .../environments/{env}/rules. The request
// order becomes the position order the rule engine walks.
func (a *API) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRulesRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}

	rules := make([]store.RuleParams, 0, len(req.Rules))
	for _, p := range req.Rules {
		rules = append(rules, store.RuleParams{
			Type:            engine.RuleType(p.Type),
			SegmentKey:      p.Segment,
			AttributeName:   p.AttributeName,
			Operator:        p.Operator,
			AttributeValue:  p.AttributeValue,
			UserIDs:         p.UserIDs,
			ServeEnabled:    p.ServeEnabled,
			ServeVariantKey: p.ServeVariant,
			ServePercentage: p.ServePercentage,
		})
	}

	principal := principalFrom(r.Context())
	err := a.store.ReplaceRules(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), chi.URLParam(r, "env"), rules)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
