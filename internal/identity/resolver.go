// Package identity abstracts the external auth collaborator that turns an
// admin bearer credential into an authenticated (project, actor) tuple. The
// core never validates credentials itself.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized: the credential is missing, unknown or expired.
var ErrUnauthorized = errors.New("identity: unauthorized")

// Principal is the authenticated caller of an admin request.
type Principal struct {
	ProjectID  uuid.UUID `json:"project_id"`
	ProjectKey string    `json:"project_key"`
	Actor      string    `json:"actor,omitempty"`
}

// Resolver resolves a bearer token to a principal.
type Resolver interface {
	ResolveToken(ctx context.Context, token string) (Principal, error)
}

// HTTPResolver calls the identity collaborator's introspection endpoint.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver against the given auth backend URL.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ResolveToken introspects the token. Any 4xx answer maps to
// ErrUnauthorized; transport failures surface as errors for the caller to
// translate into a retryable status.
func (r *HTTPResolver) ResolveToken(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/introspect", nil)
	if err != nil {
		return Principal{}, fmt.Errorf("identity: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("identity: introspection call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Principal{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return Principal{}, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}

	var p Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Principal{}, fmt.Errorf("identity: failed to decode principal: %w", err)
	}
	if p.ProjectID == uuid.Nil || p.ProjectKey == "" {
		return Principal{}, ErrUnauthorized
	}
	return p, nil
}

// StaticResolver maps tokens to principals in memory. Used by tests and
// single-tenant development setups.
type StaticResolver struct {
	tokens map[string]Principal
}

// NewStaticResolver creates a resolver over a fixed token table.
func NewStaticResolver(tokens map[string]Principal) *StaticResolver {
	return &StaticResolver{tokens: tokens}
}

// ResolveToken looks the token up in the table.
func (r *StaticResolver) ResolveToken(_ context.Context, token string) (Principal, error) {
	p, ok := r.tokens[token]
	if !ok {
		return Principal{}, ErrUnauthorized
	}
	return p, nil
}
