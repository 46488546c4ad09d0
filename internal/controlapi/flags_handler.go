package controlapi

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/store"
)

// handleCreateFlag processes POST /api/v1/flags. The flag is born disabled
// in every environment; enabling is a separate, explicit toggle.
func (a *API) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req CreateFlagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload: " + err.Error()})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	params := store.CreateFlagParams{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Type:        engine.FlagType(req.Type),
		Tags:        req.Tags,
		Permanent:   req.Permanent,
		OwnerEmail:  req.OwnerEmail,
	}
	for _, v := range req.Variants {
		params.Variants = append(params.Variants, store.VariantParams{Key: v.Key, Name: v.Name, Payload: v.Payload, Weight: v.Weight})
	}

	principal := principalFrom(r.Context())
	flag, err := a.store.CreateFlag(r.Context(), principal.ProjectID, params)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toFlagResponse(flag))
}

// handleListFlags processes GET /api/v1/flags with offset pagination.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	principal := principalFrom(r.Context())
	flags, total, err := a.store.ListFlags(r.Context(), principal.ProjectID, pageSize, (page-1)*pageSize, includeArchived)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	data := make([]FlagResponse, 0, len(flags))
	for _, f := range flags {
		data = append(data, toFlagResponse(f))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  int(math.Ceil(float64(total) / float64(pageSize))),
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetFlag processes GET /api/v1/flags/{key}.
func (a *API) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	flag, err := a.store.GetFlag(r.Context(), principal.ProjectID, chi.URLParam(r, "key"))
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toFlagResponse(flag))
}

// handleUpdateFlag processes PATCH /api/v1/flags/{key}.
func (a *API) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var req UpdateFlagRequest
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
	flag, err := a.store.UpdateFlag(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), store.UpdateFlagParams{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		OwnerEmail:  req.OwnerEmail,
		Permanent:   req.Permanent,
	})
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toFlagResponse(flag))
}

// handleDeleteFlag processes DELETE /api/v1/flags/{key}. Permanent flags are
// not destructible and answer 409.
func (a *API) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if err := a.store.DeleteFlag(r.Context(), principal.ProjectID, chi.URLParam(r, "key")); err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// handleArchiveFlag processes POST /api/v1/flags/{key}/archive. Archiving
// forces enabled=false across every environment in one transaction.
func (a *API) handleArchiveFlag(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if err := a.store.Archive(r.Context(), principal.ProjectID, chi.URLParam(r, "key")); err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// handleReplaceVariants processes PUT /api/v1/flags/{key}/variants.
func (a *API) handleReplaceVariants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variants []VariantPayload `json:"variants"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}

	params := make([]store.VariantParams, 0, len(req.Variants))
	for _, v := range req.Variants {
		if v.Weight < 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "variant weight must be non-negative"})
			return
		}
		params = append(params, store.VariantParams{Key: v.Key, Name: v.Name, Payload: v.Payload, Weight: v.Weight})
	}

	principal := principalFrom(r.Context())
	if err := a.store.ReplaceVariants(r.Context(), principal.ProjectID, chi.URLParam(r, "key"), params); err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
