package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// handleCreateEnvironment processes POST /api/v1/environments. Overlays for
// existing flags are materialized disabled in the same transaction.
func (a *API) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnvironmentRequest
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

	principal := principalFrom(r.Context())
	env, err := a.store.CreateEnvironment(r.Context(), principal.ProjectID, req.Key, req.Name, req.Production, req.Position)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, EnvironmentResponse{
		Key:        env.Key,
		Name:       env.Name,
		Production: env.Production,
		Position:   env.Position,
		CreatedAt:  env.CreatedAt,
	})
}

// handleListEnvironments processes GET /api/v1/environments.
func (a *API) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	envs, err := a.store.ListEnvironments(r.Context(), principal.ProjectID)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	data := make([]EnvironmentResponse, 0, len(envs))
	for _, env := range envs {
		data = append(data, EnvironmentResponse{
			Key:        env.Key,
			Name:       env.Name,
			Production: env.Production,
			Position:   env.Position,
			CreatedAt:  env.CreatedAt,
		})
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": data})
}

// handleDeleteEnvironment processes DELETE /api/v1/environments/{key}.
func (a *API) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if err := a.store.DeleteEnvironment(r.Context(), principal.ProjectID, chi.URLParam(r, "key")); err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
