package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/store"
)

// handleUpsertSegment processes PUT /api/v1/segments. Because snapshots
// embed segments, the store fans the change out to every referencing flag.
func (a *API) handleUpsertSegment(w http.ResponseWriter, r *http.Request) {
	var req UpsertSegmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	params := store.UpsertSegmentParams{
		Key:       req.Key,
		Name:      req.Name,
		MatchType: engine.MatchType(req.MatchType),
	}
	for _, rule := range req.Rules {
		params.Rules = append(params.Rules, store.SegmentRuleParams{
			AttributeName: rule.AttributeName,
			Operator:      rule.Operator,
			Value:         rule.Value,
		})
	}

	principal := principalFrom(r.Context())
	seg, err := a.store.UpsertSegment(r.Context(), principal.ProjectID, params)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toSegmentResponse(seg))
}

// handleListSegments processes GET /api/v1/segments.
func (a *API) handleListSegments(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	segs, err := a.store.ListSegments(r.Context(), principal.ProjectID)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	data := make([]SegmentResponse, 0, len(segs))
	for i := range segs {
		data = append(data, toSegmentResponse(&segs[i]))
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": data})
}

// handleGetSegment processes GET /api/v1/segments/{key}.
func (a *API) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	seg, err := a.store.GetSegment(r.Context(), principal.ProjectID, chi.URLParam(r, "key"))
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toSegmentResponse(seg))
}

// handleDeleteSegment processes DELETE /api/v1/segments/{key}. Deleting a
// segment still referenced by flag rules answers 409.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if err := a.store.DeleteSegment(r.Context(), principal.ProjectID, chi.URLParam(r, "key")); err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
