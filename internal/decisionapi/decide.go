package decisionapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

// DecisionResponse is the wire shape of a single decision.
type DecisionResponse struct {
	Key     string  `json:"key"`
	Enabled bool    `json:"enabled"`
	Variant *string `json:"variant"`
	Reason  string  `json:"reason"`
}

func toResponse(flagKey string, d engine.Decision) DecisionResponse {
	resp := DecisionResponse{Key: flagKey, Enabled: d.Enabled, Reason: string(d.Reason)}
	if d.Variant != "" {
		v := d.Variant
		resp.Variant = &v
	}
	return resp
}

// handleDecision serves GET /api/v1/decisions/{flag_key}.
//
// The response is HTTP 200 even for flag_not_found and flag_disabled: on the
// decision surface, absence degrades to a disabled decision, never an error.
func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		observability.DecisionDuration.WithLabelValues("decision").Observe(time.Since(start).Seconds())
	}()

	flagKey := chi.URLParam(r, "flag_key")
	envKey := r.URL.Query().Get("environment")
	if envKey == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "environment is required"})
		return
	}

	evalCtx, err := engine.ParseContext([]byte(r.URL.Query().Get("context")))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Code: "ERR_INVALID_INPUT", Message: "context must be a JSON object"})
		return
	}

	// Single decisions log by default; log=false opts out.
	logEnabled := r.URL.Query().Get("log") != "false"

	principal := principalFrom(r.Context())
	d := a.decide(r.Context(), principal, flagKey, envKey, evalCtx, logEnabled)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(flagKey, d))
}

// decide runs one evaluation through the cache hierarchy and the engine, and
// hands the outcome to the log sink. It never returns an error: transient
// failures collapse to reason=error decisions.
func (a *API) decide(ctx context.Context, principal identity.Principal, flagKey, envKey string, evalCtx engine.Context, logEnabled bool) engine.Decision {
	snap, err := a.resolveSnapshot(ctx, principal.ProjectKey, flagKey, envKey)

	var d engine.Decision
	switch {
	case err != nil:
		logger.FromContext(ctx).Error("snapshot resolution failed",
			slog.String("flag_key", flagKey),
			slog.String("environment", envKey),
			slog.String("error", err.Error()),
		)
		d = engine.ErrorDecision(flagKey)
	default:
		// snap may be nil here: evaluate degrades that to flag_not_found.
		d = a.evaluator.Evaluate(snap, evalCtx)
	}

	observability.DecisionsTotal.WithLabelValues(metricReason(d.Reason)).Inc()

	if logEnabled && a.sink != nil {
		a.sink.Log(evaluationRecord(principal.ProjectID, flagKey, envKey, evalCtx, d))
	}
	return d
}

// resolveSnapshot is the read-through path: L1 -> L2 -> store. A missing
// flag or overlay returns (nil, nil); only transient failures return errors.
func (a *API) resolveSnapshot(ctx context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, error) {
	key := cache.SnapshotKey(projectKey, flagKey, envKey)

	if snap, found := a.l1.Get(key); found {
		observability.CacheHits.WithLabelValues("l1").Inc()
		return snap, nil
	}
	observability.CacheMisses.WithLabelValues("l1").Inc()

	snap, found, err := a.l2.GetSnapshot(ctx, projectKey, flagKey, envKey)
	if err != nil {
		// A degraded L2 is not fatal while the store still answers.
		logger.FromContext(ctx).Warn("l2 snapshot read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	if found {
		observability.CacheHits.WithLabelValues("l2").Inc()
		a.l1.Set(key, snap)
		return snap, nil
	}
	observability.CacheMisses.WithLabelValues("l2").Inc()

	snap, err = a.source.BuildSnapshot(ctx, projectKey, flagKey, envKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Snapshots are idempotent; a concurrent misser writing the same value
	// is harmless, so there is no single-flight here.
	if err := a.l2.SetSnapshot(ctx, projectKey, flagKey, envKey, snap); err != nil {
		logger.FromContext(ctx).Warn("l2 snapshot write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	a.l1.Set(key, snap)
	return snap, nil
}

// evaluationRecord projects a decision into its log row.
func evaluationRecord(projectID uuid.UUID, flagKey, envKey string, evalCtx engine.Context, d engine.Decision) store.EvaluationRecord {
	ctxJSON, err := json.Marshal(contextSnapshot(evalCtx))
	if err != nil {
		ctxJSON = []byte("{}")
	}
	return store.EvaluationRecord{
		ProjectID:      projectID,
		FlagKey:        flagKey,
		EnvironmentKey: envKey,
		SubjectID:      loggableSubject(evalCtx),
		Context:        ctxJSON,
		Enabled:        d.Enabled,
		VariantKey:     d.Variant,
		MatchedRule:    d.RuleID,
		Reason:         string(d.Reason),
		EvaluatedAt:    time.Now().UTC(),
	}
}

// contextSnapshot renders the normalized context back to plain JSON values
// for the log row.
func contextSnapshot(evalCtx engine.Context) map[string]string {
	out := make(map[string]string, len(evalCtx))
	for k, v := range evalCtx {
		out[k] = v.Str()
	}
	return out
}

// loggableSubject records only a stable identifier; a random fallback would
// imply determinism the decision does not have.
func loggableSubject(evalCtx engine.Context) string {
	for _, k := range []string{"user_id", "id", "anonymous_id"} {
		if v, ok := evalCtx[k]; ok {
			if s := v.Str(); s != "" {
				return s
			}
		}
	}
	return ""
}

// metricReason collapses per-rule percentage reasons into one label value to
// keep metric cardinality bounded.
func metricReason(r engine.Reason) string {
	if strings.HasPrefix(string(r), "rule_percentage_") {
		return "rule_percentage"
	}
	return string(r)
}
