package decisionapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/store"
)

// fakeL2 is an in-memory SnapshotCache.
type fakeL2 struct {
	mu        sync.Mutex
	snaps     map[string]*engine.FlagSnapshot
	bootstrap map[string][]engine.FlagSnapshot
	getErr    error
}

func newFakeL2() *fakeL2 {
	return &fakeL2{snaps: map[string]*engine.FlagSnapshot{}, bootstrap: map[string][]engine.FlagSnapshot{}}
}

func (f *fakeL2) GetSnapshot(_ context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	snap, ok := f.snaps[cache.SnapshotKey(projectKey, flagKey, envKey)]
	return snap, ok, nil
}

func (f *fakeL2) SetSnapshot(_ context.Context, projectKey, flagKey, envKey string, snap *engine.FlagSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[cache.SnapshotKey(projectKey, flagKey, envKey)] = snap
	return nil
}

func (f *fakeL2) GetBootstrap(_ context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snaps, ok := f.bootstrap[cache.BootstrapKey(projectKey, envKey)]
	return snaps, ok, nil
}

func (f *fakeL2) SetBootstrap(_ context.Context, projectKey, envKey string, snaps []engine.FlagSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrap[cache.BootstrapKey(projectKey, envKey)] = snaps
	return nil
}

func (f *fakeL2) Invalidate(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.snaps, k)
		delete(f.bootstrap, k)
	}
	return nil
}

func (f *fakeL2) HealthCheck(context.Context) error { return nil }
func (f *fakeL2) Close() error                      { return nil }

// fakeSource is an in-memory SnapshotSource counting store loads.
type fakeSource struct {
	mu       sync.Mutex
	snaps    map[string]*engine.FlagSnapshot
	loads    int
	buildErr error
}

func (f *fakeSource) BuildSnapshot(_ context.Context, projectKey, flagKey, envKey string) (*engine.FlagSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	snap, ok := f.snaps[cache.SnapshotKey(projectKey, flagKey, envKey)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return snap, nil
}

func (f *fakeSource) BuildEnvironmentSnapshots(_ context.Context, projectKey, envKey string) ([]engine.FlagSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	prefix := "flag:" + projectKey + ":"
	suffix := ":" + envKey
	var out []engine.FlagSnapshot
	for k, snap := range f.snaps {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, *snap)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []store.EvaluationRecord
}

func (f *fakeSink) Log(rec store.EvaluationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeEvents struct {
	events []bus.Event
}

func (f *fakeEvents) Subscribe(ctx context.Context, _ string) <-chan bus.Event {
	ch := make(chan bus.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

type fakeProjects struct {
	project *store.Project
}

func (f *fakeProjects) GetProjectBySDKKey(_ context.Context, sdkKey string) (*store.Project, error) {
	if f.project != nil && f.project.SDKKey == sdkKey {
		return f.project, nil
	}
	return nil, store.ErrNotFound
}

type edgeFixture struct {
	api      *API
	l1       *cache.MemoryCache
	l2       *fakeL2
	source   *fakeSource
	sink     *fakeSink
	events   *fakeEvents
	projects *fakeProjects
}

const testToken = "admin-token"

func newEdgeFixture(t *testing.T) *edgeFixture {
	t.Helper()

	l1, err := cache.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(l1.Close)

	l2 := newFakeL2()
	source := &fakeSource{snaps: map[string]*engine.FlagSnapshot{}}
	sink := &fakeSink{}
	events := &fakeEvents{}
	projects := &fakeProjects{project: &store.Project{
		ID:     uuid.New(),
		Key:    "acme",
		SDKKey: "sdk-secret",
	}}

	auth := identity.NewStaticResolver(map[string]identity.Principal{
		testToken: {ProjectID: projects.project.ID, ProjectKey: "acme", Actor: "dev"},
	})

	api := NewAPI(l1, l2, source, engine.New(nil), sink, events, auth, projects, Options{StreamPingInterval: 1})
	return &edgeFixture{api: api, l1: l1, l2: l2, source: source, sink: sink, events: events, projects: projects}
}

func (f *edgeFixture) addFlag(snap *engine.FlagSnapshot, envKey string) {
	f.source.mu.Lock()
	defer f.source.mu.Unlock()
	f.source.snaps[cache.SnapshotKey("acme", snap.Key, envKey)] = snap
}

func (f *edgeFixture) getDecision(t *testing.T, flagKey string, query url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/"+flagKey+"?"+query.Encode(), nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.api.Router.ServeHTTP(rec, req)
	return rec, decodeBody(t, rec)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := jsonDecode(rec.Body.Bytes(), &body); err != nil {
		return nil
	}
	return body
}

func TestDecisionEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("percentage rollout decision", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypePercentage, Enabled: true, Percentage: 50}, "production")

		// Bucket("checkout","alice")=6 < 50.
		rec, body := f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{"user_id":"alice"}`},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["enabled"])
		assert.Equal(t, "percentage_rollout", body["reason"])
		assert.Nil(t, body["variant"])

		// Bucket("checkout","carol")=95 >= 50.
		rec, body = f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{"user_id":"carol"}`},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["enabled"])
	})

	t.Run("flag_not_found is HTTP 200", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)

		rec, body := f.getDecision(t, "missing", url.Values{"environment": {"production"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["enabled"])
		assert.Equal(t, "flag_not_found", body["reason"])
	})

	t.Run("transient store failure degrades to reason error", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.source.buildErr = errors.New("db down")

		rec, body := f.getDecision(t, "checkout", url.Values{"environment": {"production"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["enabled"])
		assert.Equal(t, "error", body["reason"])
	})

	t.Run("variant assignment decision", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{
			Key: "checkout", Type: engine.FlagTypeVariant, Enabled: true,
			Variants: []engine.Variant{{Key: "A", Weight: 1}, {Key: "B", Weight: 3}},
		}, "production")

		// Bucket("checkout:variant","bob")=19 < 25.
		_, body := f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{"user_id":"bob"}`},
		})
		assert.Equal(t, "A", body["variant"])
		assert.Equal(t, "variant_assignment", body["reason"])
	})

	t.Run("missing environment is 400", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		rec, _ := f.getDecision(t, "checkout", url.Values{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed context is 400", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		rec, _ := f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{broken`},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing bearer is 401", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/checkout?environment=production", nil)
		rec := httptest.NewRecorder()
		f.api.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDecisionEndpoint_Logging(t *testing.T) {
	t.Parallel()

	t.Run("logs by default", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true}, "production")

		f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{"user_id":"u1","plan":"pro"}`},
		})
		require.Equal(t, 1, f.sink.count())

		rec := f.sink.records[0]
		assert.Equal(t, "checkout", rec.FlagKey)
		assert.Equal(t, "production", rec.EnvironmentKey)
		assert.Equal(t, "u1", rec.SubjectID)
		assert.Equal(t, "default", rec.Reason)
		assert.True(t, rec.Enabled)
	})

	t.Run("log=false opts out", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true}, "production")

		f.getDecision(t, "checkout", url.Values{
			"environment": {"production"},
			"context":     {`{"user_id":"u1"}`},
			"log":         {"false"},
		})
		assert.Zero(t, f.sink.count())
	})
}

func TestDecisionEndpoint_ReadThroughCaching(t *testing.T) {
	t.Parallel()

	f := newEdgeFixture(t)
	f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true}, "production")

	query := url.Values{"environment": {"production"}, "context": {`{"user_id":"u1"}`}}

	f.getDecision(t, "checkout", query)
	f.getDecision(t, "checkout", query)
	f.getDecision(t, "checkout", query)

	f.source.mu.Lock()
	loads := f.source.loads
	f.source.mu.Unlock()
	assert.Equal(t, 1, loads, "repeat decisions must come from the caches")

	// The miss populated L2 so sibling processes would hit it.
	_, found, err := f.l2.GetSnapshot(context.Background(), "acme", "checkout", "production")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBulkEndpoint(t *testing.T) {
	t.Parallel()

	f := newEdgeFixture(t)
	f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true}, "production")
	f.addFlag(&engine.FlagSnapshot{Key: "dark_mode", Type: engine.FlagTypeBoolean, Enabled: false}, "production")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations/bulk",
		strings.NewReader(`{"environment":"production","context":{"user_id":"u1"}}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.api.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Flags []BulkFlagResult `json:"flags"`
	}
	require.NoError(t, jsonDecode(rec.Body.Bytes(), &body))
	require.Len(t, body.Flags, 2)

	results := map[string]bool{}
	for _, fl := range body.Flags {
		results[fl.Key] = fl.Enabled
	}
	assert.True(t, results["checkout"])
	assert.False(t, results["dark_mode"])

	// Bulk decisions are never logged.
	assert.Zero(t, f.sink.count())
}

func TestSDKEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("bootstrap requires the project credential", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)

		req := httptest.NewRequest(http.MethodGet, "/sdk/bootstrap?environment=production", nil)
		rec := httptest.NewRecorder()
		f.api.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/sdk/bootstrap?environment=production", nil)
		req.Header.Set("X-SDK-Key", "wrong")
		rec = httptest.NewRecorder()
		f.api.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bootstrap returns the snapshot list and server time", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypeBoolean, Enabled: true}, "production")

		req := httptest.NewRequest(http.MethodGet, "/sdk/bootstrap?environment=production", nil)
		req.Header.Set("X-SDK-Key", "sdk-secret")
		rec := httptest.NewRecorder()
		f.api.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body BootstrapResponse
		require.NoError(t, jsonDecode(rec.Body.Bytes(), &body))
		require.Len(t, body.Flags, 1)
		assert.Equal(t, "checkout", body.Flags[0].Key)
		assert.False(t, body.ServerTime.IsZero())
	})

	t.Run("sdk evaluate matches the decision RPC", func(t *testing.T) {
		t.Parallel()
		f := newEdgeFixture(t)
		f.addFlag(&engine.FlagSnapshot{Key: "checkout", Type: engine.FlagTypePercentage, Enabled: true, Percentage: 50}, "production")

		req := httptest.NewRequest(http.MethodPost, "/sdk/evaluate",
			strings.NewReader(`{"flag":"checkout","environment":"production","context":{"user_id":"alice"}}`))
		req.Header.Set("X-SDK-Key", "sdk-secret")
		rec := httptest.NewRecorder()
		f.api.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["enabled"])
		assert.Equal(t, "percentage_rollout", body["reason"])
	})
}

func TestStreamEndpoint(t *testing.T) {
	t.Parallel()

	f := newEdgeFixture(t)
	f.events.events = []bus.Event{{
		Action:         "toggled",
		FlagKey:        "checkout",
		EnvironmentKey: "production",
		Enabled:        true,
		Timestamp:      time.Now().UTC(),
	}}

	server := httptest.NewServer(f.api.Router)
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The fake event source delivers one frame and closes, which ends the
	// stream; scan what arrived.
	var sawEvent, sawData bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: change" {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") {
			sawData = true
			var event bus.Event
			require.NoError(t, jsonDecode([]byte(strings.TrimPrefix(line, "data: ")), &event))
			assert.Equal(t, "checkout", event.FlagKey)
			assert.Equal(t, "production", event.EnvironmentKey)
			assert.True(t, event.Enabled)
		}
	}
	assert.True(t, sawEvent)
	assert.True(t, sawData)
}

func jsonDecode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
