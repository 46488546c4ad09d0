package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	t.Parallel()

	principal := Principal{ProjectID: uuid.New(), ProjectKey: "acme", Actor: "dev@acme.test"}
	resolver := NewStaticResolver(map[string]Principal{"token-1": principal})

	got, err := resolver.ResolveToken(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, principal, got)

	_, err = resolver.ResolveToken(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPResolver(t *testing.T) {
	t.Parallel()

	projectID := uuid.New()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/introspect", r.URL.Path)

		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"project_id":"` + projectID.String() + `","project_key":"acme","actor":"dev"}`))
		case "Bearer broken-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"project_key":""}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer backend.Close()

	resolver := NewHTTPResolver(backend.URL, time.Second)

	t.Run("valid token resolves", func(t *testing.T) {
		p, err := resolver.ResolveToken(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, projectID, p.ProjectID)
		assert.Equal(t, "acme", p.ProjectKey)
		assert.Equal(t, "dev", p.Actor)
	})

	t.Run("unknown token is unauthorized", func(t *testing.T) {
		_, err := resolver.ResolveToken(context.Background(), "bad-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty token short-circuits", func(t *testing.T) {
		_, err := resolver.ResolveToken(context.Background(), "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("incomplete principal is unauthorized", func(t *testing.T) {
		_, err := resolver.ResolveToken(context.Background(), "broken-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unreachable backend is a transport error", func(t *testing.T) {
		dead := NewHTTPResolver("http://127.0.0.1:1", 200*time.Millisecond)
		_, err := dead.ResolveToken(context.Background(), "any")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})
}
