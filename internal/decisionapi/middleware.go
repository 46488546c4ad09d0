package decisionapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/store"
)

// principalKey carries the authenticated principal through the request
// context.
type principalKey struct{}

func principalFrom(ctx context.Context) identity.Principal {
	p, _ := ctx.Value(principalKey{}).(identity.Principal)
	return p
}

// RequestLogger injects a request-scoped logger and logs method, path,
// status and duration for every request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		reqLogger := slog.Default().With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ctx := logger.WithContext(r.Context(), reqLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLogger.Log(r.Context(), level, "http request completed",
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// authenticateBearer resolves the Authorization bearer credential through
// the identity collaborator and stores the principal in the context.
func (a *API) authenticateBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		principal, err := a.auth.ResolveToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthorized) {
				renderUnauthorized(w, r)
				return
			}
			logger.FromContext(r.Context()).Error("identity resolution failed", slog.String("error", err.Error()))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorBody{Code: "ERR_UNAVAILABLE", Message: "Authentication backend unavailable"})
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateSDKKey resolves the X-SDK-Key project credential.
func (a *API) authenticateSDKKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sdkKey := r.Header.Get("X-SDK-Key")
		if sdkKey == "" {
			renderUnauthorized(w, r)
			return
		}

		project, err := a.projects.GetProjectBySDKKey(r.Context(), sdkKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				renderUnauthorized(w, r)
				return
			}
			logger.FromContext(r.Context()).Error("sdk key lookup failed", slog.String("error", err.Error()))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorBody{Code: "ERR_UNAVAILABLE", Message: "Credential store unavailable"})
			return
		}

		principal := identity.Principal{ProjectID: project.ID, ProjectKey: project.Key}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func renderUnauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, errorBody{Code: "ERR_UNAUTHORIZED", Message: "Missing or invalid credential"})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
