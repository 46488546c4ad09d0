// Package decisionapi implements the edge HTTP plane: the decision RPC, bulk
// decisions, the SDK bootstrap/evaluate endpoints and the subscribe stream.
// It is the high-throughput read path: L1 (memory) -> L2 (Redis) -> store,
// pure evaluation over snapshots, and fire-and-forget logging.
package decisionapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/store"
)

// SnapshotSource loads snapshots from the authoritative store on cache miss.
type SnapshotSource interface {
	BuildSnapshot(ctx context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, error)
	BuildEnvironmentSnapshots(ctx context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, error)
}

// ProjectResolver authenticates SDK credentials.
type ProjectResolver interface {
	GetProjectBySDKKey(ctx context.Context, sdkKey string) (*store.Project, error)
}

// DecisionLogger receives sampled decision records, fire-and-forget.
type DecisionLogger interface {
	Log(rec store.EvaluationRecord)
}

// EventSource provides project-scoped change events for the subscribe
// stream.
type EventSource interface {
	Subscribe(ctx context.Context, projectKey string) <-chan bus.Event
}

// Options carries the edge plane tunables.
type Options struct {
	StreamPingInterval int64 // seconds; 0 means the default
}

// API holds the edge plane dependencies and router.
type API struct {
	Router *chi.Mux

	l1        *cache.MemoryCache
	l2        cache.SnapshotCache
	source    SnapshotSource
	evaluator *engine.Evaluator
	sink      DecisionLogger
	events    EventSource
	auth      identity.Resolver
	projects  ProjectResolver

	streamPingSeconds int64
}

// NewAPI wires the edge plane. The sink may be nil (logging disabled); every
// other dependency is mandatory.
func NewAPI(
	l1 *cache.MemoryCache,
	l2 cache.SnapshotCache,
	source SnapshotSource,
	evaluator *engine.Evaluator,
	sink DecisionLogger,
	events EventSource,
	auth identity.Resolver,
	projects ProjectResolver,
	opts Options,
) *API {
	if l1 == nil {
		panic("decisionapi: l1 cache cannot be nil")
	}
	if l2 == nil {
		panic("decisionapi: l2 cache cannot be nil")
	}
	if source == nil {
		panic("decisionapi: snapshot source cannot be nil")
	}
	if evaluator == nil {
		panic("decisionapi: evaluator cannot be nil")
	}
	if events == nil {
		panic("decisionapi: event source cannot be nil")
	}
	if auth == nil {
		panic("decisionapi: identity resolver cannot be nil")
	}
	if projects == nil {
		panic("decisionapi: project resolver cannot be nil")
	}

	if opts.StreamPingInterval <= 0 {
		opts.StreamPingInterval = 25
	}

	a := &API{
		Router:            chi.NewRouter(),
		l1:                l1,
		l2:                l2,
		source:            source,
		evaluator:         evaluator,
		sink:              sink,
		events:            events,
		auth:              auth,
		projects:          projects,
		streamPingSeconds: opts.StreamPingInterval,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	// Decision surfaces, bearer-authenticated.
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateBearer)

		r.Get("/decisions/{flag_key}", a.handleDecision)
		r.Post("/evaluations/bulk", a.handleBulk)
		r.Get("/stream", a.handleStream)
	})

	// SDK surfaces, authenticated by the project credential.
	a.Router.Route("/sdk", func(r chi.Router) {
		r.Use(a.authenticateSDKKey)

		r.Get("/bootstrap", a.handleBootstrap)
		r.Post("/evaluate", a.handleSDKEvaluate)
	})
}
