package decisionapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
)

// BootstrapResponse carries the full project-env snapshot list plus the
// server timestamp, letting SDKs evaluate locally until the next sync.
type BootstrapResponse struct {
	Flags      []engine.FlagSnapshot `json:"flags"`
	ServerTime time.Time             `json:"server_time"`
}

// handleBootstrap serves GET /sdk/bootstrap?environment=...
func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	envKey := r.URL.Query().Get("environment")
	if envKey == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "environment is required"})
		return
	}

	principal := principalFrom(r.Context())
	snaps, err := a.resolveBootstrap(r.Context(), principal.ProjectKey, envKey)
	if err != nil {
		logger.FromContext(r.Context()).Error("bootstrap resolution failed",
			slog.String("environment", envKey),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorBody{Code: "ERR_UNAVAILABLE", Message: "Configuration store unavailable"})
		return
	}
	if snaps == nil {
		snaps = []engine.FlagSnapshot{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, BootstrapResponse{Flags: snaps, ServerTime: time.Now().UTC()})
}

// SDKEvaluateRequest is the payload for POST /sdk/evaluate. Identical
// semantics to the decision RPC, authenticated by the project credential.
type SDKEvaluateRequest struct {
	Flag        string          `json:"flag"`
	Environment string          `json:"environment"`
	Context     json.RawMessage `json:"context,omitempty"`
	Log         *bool           `json:"log,omitempty"`
}

// handleSDKEvaluate serves POST /sdk/evaluate.
func (a *API) handleSDKEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		observability.DecisionDuration.WithLabelValues("sdk_evaluate").Observe(time.Since(start).Seconds())
	}()

	var req SDKEvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_JSON", Message: "Invalid JSON payload"})
		return
	}
	if req.Flag == "" || req.Environment == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "flag and environment are required"})
		return
	}

	evalCtx, err := engine.ParseContext(req.Context)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "context must be a JSON object"})
		return
	}

	logEnabled := req.Log == nil || *req.Log

	principal := principalFrom(r.Context())
	d := a.decide(r.Context(), principal, req.Flag, req.Environment, evalCtx, logEnabled)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(req.Flag, d))
}
