// Package controlapi implements the admin REST surface: project-scoped CRUD
// for flags, variants, overlays, rules, segments and environments. Every
// accepted mutation goes through the config store, which commits the domain
// rows and the propagation outbox in one transaction.
package controlapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/store"
)

// ConfigStore is the store surface the admin plane drives. An interface so
// handler tests can fake persistence.
type ConfigStore interface {
	CreateFlag(ctx context.Context, projectID uuid.UUID, p store.CreateFlagParams) (*store.Flag, error)
	GetFlag(ctx context.Context, projectID uuid.UUID, key string) (*store.Flag, error)
	ListFlags(ctx context.Context, projectID uuid.UUID, limit, offset int, includeArchived bool) ([]*store.Flag, int64, error)
	UpdateFlag(ctx context.Context, projectID uuid.UUID, key string, p store.UpdateFlagParams) (*store.Flag, error)
	DeleteFlag(ctx context.Context, projectID uuid.UUID, flagKey string) error
	Archive(ctx context.Context, projectID uuid.UUID, flagKey string) error
	Toggle(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, enabled bool) error
	Schedule(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, kind store.TransitionKind, at time.Time) (uuid.UUID, error)
	ReplaceVariants(ctx context.Context, projectID uuid.UUID, flagKey string, variants []store.VariantParams) error
	UpdateOverlay(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, p store.OverlayParams) error
	ReplaceRules(ctx context.Context, projectID uuid.UUID, flagKey, envKey string, rules []store.RuleParams) error

	UpsertSegment(ctx context.Context, projectID uuid.UUID, p store.UpsertSegmentParams) (*store.Segment, error)
	GetSegment(ctx context.Context, projectID uuid.UUID, key string) (*store.Segment, error)
	ListSegments(ctx context.Context, projectID uuid.UUID) ([]store.Segment, error)
	DeleteSegment(ctx context.Context, projectID uuid.UUID, key string) error

	CreateEnvironment(ctx context.Context, projectID uuid.UUID, key, name string, production bool, position int) (*store.Environment, error)
	ListEnvironments(ctx context.Context, projectID uuid.UUID) ([]store.Environment, error)
	DeleteEnvironment(ctx context.Context, projectID uuid.UUID, key string) error
}

// API holds the control plane dependencies and router.
type API struct {
	Router *chi.Mux

	store ConfigStore
	auth  identity.Resolver
}

// NewAPI wires the control plane.
func NewAPI(configStore ConfigStore, auth identity.Resolver) *API {
	if configStore == nil {
		panic("controlapi: config store cannot be nil")
	}
	if auth == nil {
		panic("controlapi: identity resolver cannot be nil")
	}

	a := &API{
		Router: chi.NewRouter(),
		store:  configStore,
		auth:   auth,
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

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticate)

		r.Route("/flags", func(r chi.Router) {
			r.Post("/", a.handleCreateFlag)
			r.Get("/", a.handleListFlags)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", a.handleGetFlag)
				r.Patch("/", a.handleUpdateFlag)
				r.Delete("/", a.handleDeleteFlag)
				r.Post("/archive", a.handleArchiveFlag)
				r.Put("/variants", a.handleReplaceVariants)

				r.Route("/environments/{env}", func(r chi.Router) {
					r.Patch("/", a.handleUpdateOverlay)
					r.Post("/toggle", a.handleToggle)
					r.Post("/schedule", a.handleSchedule)
					r.Put("/rules", a.handleReplaceRules)
				})
			})
		})

		r.Route("/segments", func(r chi.Router) {
			r.Put("/", a.handleUpsertSegment)
			r.Get("/", a.handleListSegments)
			r.Get("/{key}", a.handleGetSegment)
			r.Delete("/{key}", a.handleDeleteSegment)
		})

		r.Route("/environments", func(r chi.Router) {
			r.Post("/", a.handleCreateEnvironment)
			r.Get("/", a.handleListEnvironments)
			r.Delete("/{key}", a.handleDeleteEnvironment)
		})
	})
}
