package decisionapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
)

// BulkRequest is the payload for POST /api/v1/evaluations/bulk.
type BulkRequest struct {
	Environment string          `json:"environment"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// BulkFlagResult is one flag's outcome in a bulk response.
type BulkFlagResult struct {
	Key     string  `json:"key"`
	Enabled bool    `json:"enabled"`
	Variant *string `json:"variant"`
}

// BulkResponse covers every non-archived flag of the project.
type BulkResponse struct {
	Flags []BulkFlagResult `json:"flags"`
}

// handleBulk evaluates every active flag for one subject. Bulk evaluations
// are never logged; per-decision log cardinality would explode.
func (a *API) handleBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		observability.DecisionDuration.WithLabelValues("bulk").Observe(time.Since(start).Seconds())
	}()

	var req BulkRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}
	if req.Environment == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "environment is required"})
		return
	}

	evalCtx, err := engine.ParseContext(req.Context)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "context must be a JSON object"})
		return
	}

	principal := principalFrom(r.Context())
	snaps, err := a.resolveBootstrap(r.Context(), principal.ProjectKey, req.Environment)
	if err != nil {
		logger.FromContext(r.Context()).Error("bootstrap resolution failed",
			slog.String("environment", req.Environment),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorBody{Code: "ERR_UNAVAILABLE", Message: "Configuration store unavailable"})
		return
	}

	resp := BulkResponse{Flags: make([]BulkFlagResult, 0, len(snaps))}
	for i := range snaps {
		d := a.evaluator.Evaluate(&snaps[i], evalCtx)
		result := BulkFlagResult{Key: snaps[i].Key, Enabled: d.Enabled}
		if d.Variant != "" {
			v := d.Variant
			result.Variant = &v
		}
		resp.Flags = append(resp.Flags, result)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// resolveBootstrap is the read-through path for the project-env snapshot
// list.
func (a *API) resolveBootstrap(ctx context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, error) {
	snaps, found, err := a.l2.GetBootstrap(ctx, projectKey, envKey)
	if err != nil {
		logger.FromContext(ctx).Warn("l2 bootstrap read failed", slog.String("error", err.Error()))
	}
	if found {
		observability.CacheHits.WithLabelValues("l2").Inc()
		return snaps, nil
	}
	observability.CacheMisses.WithLabelValues("l2").Inc()

	snaps, err = a.source.BuildEnvironmentSnapshots(ctx, projectKey, envKey)
	if err != nil {
		return nil, err
	}
	if err := a.l2.SetBootstrap(ctx, projectKey, envKey, snaps); err != nil {
		logger.FromContext(ctx).Warn("l2 bootstrap write failed", slog.String("error", err.Error()))
	}
	return snaps, nil
}
