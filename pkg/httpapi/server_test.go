package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/engine"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
)

// ──────────────────────────────────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────────────────────────────────

type fakeEngine struct {
	mu         sync.Mutex
	windows    []engine.Window
	syncRuns   int
	asyncRuns  int
	saved      []core.ExecutionResult
	saveOp     *core.Operation
	saveErr    error
	runErr     error
	groups     []string
	events     chan core.Event
	subscribed chan struct{}
	released   chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:     make(chan core.Event, 1),
		subscribed: make(chan struct{}, 1),
		released:   make(chan struct{}, 1),
	}
}

func (f *fakeEngine) Run(_ context.Context, w engine.Window) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asyncRuns++
	f.windows = append(f.windows, w)
	return f.groups, f.runErr
}

func (f *fakeEngine) RunSync(_ context.Context, w engine.Window) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncRuns++
	f.windows = append(f.windows, w)
	return f.groups, f.runErr
}

func (f *fakeEngine) SaveResult(_ context.Context, id string, result core.ExecutionResult) (*core.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, result)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	op := *f.saveOp
	op.ID = id
	return &op, nil
}

func (f *fakeEngine) UncompletedGroupIDs(context.Context) ([]string, error) {
	return f.groups, f.runErr
}

func (f *fakeEngine) Events() <-chan core.Event {
	f.subscribed <- struct{}{}
	return f.events
}

func (f *fakeEngine) Unsubscribe(<-chan core.Event) {
	f.released <- struct{}{}
}

type fixture struct {
	engine  *fakeEngine
	storage *storage.GormStorage
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))

	e := newFakeEngine()
	return &fixture{engine: e, storage: s, handler: New(e, s, opts...).Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) seed(t *testing.T) (*core.OperationGroup, *core.Operation) {
	t.Helper()
	ctx := context.Background()
	g := &core.OperationGroup{Description: "checkout"}
	require.NoError(t, f.storage.CreateGroup(ctx, g))
	op := &core.Operation{
		GroupID:         g.ID,
		ExecutorName:    "charge",
		Kind:            core.KindAsyncRequest,
		Importance:      core.ImportanceCritical,
		Priority:        5,
		MaxAttemptCount: 2,
		RetryDelay:      5 * time.Second,
	}
	require.NoError(t, f.storage.CreateOperation(ctx, op))
	return g, op
}

// ──────────────────────────────────────────────────────────────────────────────
// Service endpoints
// ──────────────────────────────────────────────────────────────────────────────

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, WithMetricsHandler(metrics.NewCollector().Handler()))

	rec := f.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ops_pool_active")
}

func TestServer_MetricsNotMountedByDefault(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Middleware(t *testing.T) {
	f := newFixture(t, WithMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Ops", "1")
			next.ServeHTTP(w, r)
		})
	}))

	rec := f.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, "1", rec.Header().Get("X-Ops"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations and groups
// ──────────────────────────────────────────────────────────────────────────────

func TestServer_GetOperation(t *testing.T) {
	f := newFixture(t)
	g, op := f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/operations/"+op.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, op.ID, body["id"])
	assert.Equal(t, g.ID, body["group_id"])
	assert.Equal(t, "charge", body["executor"])
	assert.Equal(t, "CREATED", body["status"])
	assert.Equal(t, "5s", body["retry_delay"])
}

func TestServer_GetOperationNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/operations/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestServer_GetGroup(t *testing.T) {
	f := newFixture(t)
	g, op := f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/groups/"+g.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "CREATED", body["status"])
	assert.Equal(t, "checkout", body["description"])
	ops := body["operations"].([]any)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].(map[string]any)["id"])
}

func TestServer_GetGroupNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/groups/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UncompletedGroups(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/groups/uncompleted", "")
	assert.Equal(t, []any{}, decode(t, rec)["groups"])

	f.engine.groups = []string{"g-1", "g-2"}
	rec = f.do(t, http.MethodGet, "/api/v1/groups/uncompleted", "")
	assert.Equal(t, []any{"g-1", "g-2"}, decode(t, rec)["groups"])
}

// ──────────────────────────────────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────────────────────────────────

func TestServer_SaveResult(t *testing.T) {
	f := newFixture(t)
	f.engine.saveOp = &core.Operation{Status: core.StatusSuccess, ExecutionResult: core.ResultSuccess}

	rec := f.do(t, http.MethodPost, "/api/v1/operations/op-1/result", `{"result":" success "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "op-1", body["id"])
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, []core.ExecutionResult{core.ResultSuccess}, f.engine.saved)
}

func TestServer_SaveResultErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: op-1", core.ErrOperationNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"not waiting", core.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown result", core.ErrInvalidResult, http.StatusBadRequest, "INVALID_RESULT"},
		{"concurrent update", core.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{"storage failure", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.saveErr = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/operations/op-1/result", `{"result":"FAIL"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestServer_SaveResultBadRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/operations/op-1/result", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PARSE_ERROR", decode(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/v1/operations/op-1/result", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])

	assert.Empty(t, f.engine.saved)
}

// ──────────────────────────────────────────────────────────────────────────────
// Engine passes
// ──────────────────────────────────────────────────────────────────────────────

func TestServer_RunDefaults(t *testing.T) {
	f := newFixture(t, WithRunTimeout(time.Minute))
	f.engine.groups = []string{"g-1"}
	before := time.Now()

	rec := f.do(t, http.MethodPost, "/api/v1/engine/run", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"g-1"}, decode(t, rec)["groups"])
	assert.Equal(t, 1, f.engine.asyncRuns)
	require.Len(t, f.engine.windows, 1)
	assert.Equal(t, engine.Unlimited, f.engine.windows[0].MaxOperations)
	assert.WithinDuration(t, before.Add(time.Minute), f.engine.windows[0].Deadline, 5*time.Second)
}

func TestServer_RunSyncWithBudget(t *testing.T) {
	f := newFixture(t)
	before := time.Now()

	rec := f.do(t, http.MethodPost, "/api/v1/engine/run", `{"max_operations":3,"timeout":"5s","sync":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["sync"])
	assert.Equal(t, 1, f.engine.syncRuns)
	assert.Equal(t, 3, f.engine.windows[0].MaxOperations)
	assert.WithinDuration(t, before.Add(5*time.Second), f.engine.windows[0].Deadline, 2*time.Second)
}

func TestServer_RunTimeoutIsCapped(t *testing.T) {
	f := newFixture(t, WithRunTimeout(time.Second))
	before := time.Now()

	rec := f.do(t, http.MethodPost, "/api/v1/engine/run", `{"timeout":"1h"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, before.Add(time.Second), f.engine.windows[0].Deadline, time.Second)
}

func TestServer_RunValidation(t *testing.T) {
	for _, body := range []string{`{"timeout":"soon"}`, `{"timeout":"-1s"}`, `{"max_operations":-2}`, `{`} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t)

			rec := f.do(t, http.MethodPost, "/api/v1/engine/run", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.engine.windows)
		})
	}
}

func TestServer_RunError(t *testing.T) {
	f := newFixture(t)
	f.engine.runErr = errors.New("database unavailable")

	rec := f.do(t, http.MethodPost, "/api/v1/engine/run", `{"sync":true}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// ──────────────────────────────────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────────────────────────────────

func TestServer_EventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?group=g-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	<-f.engine.subscribed

	f.engine.events <- &core.GroupStatusChanged{GroupID: "g-other", From: core.GroupCreated, To: core.GroupInProgress}
	f.engine.events <- &core.GroupStatusChanged{GroupID: "g-1", From: core.GroupInProgress, To: core.GroupCompleted, Comment: "done"}

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: group.status_changed\n", eventLine)
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	var view eventView
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &view))
	assert.Equal(t, "g-1", view.GroupID)
	assert.Equal(t, "COMPLETED", view.Status)
	assert.Equal(t, "IN_PROGRESS", view.Previous)
	assert.Equal(t, "done", view.Comment)

	cancel()
	select {
	case <-f.engine.released:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released after the client left")
	}
}

func TestToEventView(t *testing.T) {
	op := &core.Operation{ID: "op-1", GroupID: "g-1", Status: core.StatusSuccess}

	tests := []struct {
		event core.Event
		want  string
	}{
		{&core.OperationEnqueued{Operation: op}, "operation.enqueued"},
		{&core.OperationDispatched{OperationID: "op-1", GroupID: "g-1"}, "operation.dispatched"},
		{&core.OperationRejected{OperationID: "op-1", GroupID: "g-1"}, "operation.rejected"},
		{&core.OperationProcessed{Operation: op, Previous: core.StatusInWork}, "operation.processed"},
		{&core.GroupStatusChanged{GroupID: "g-1"}, "group.status_changed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			view := toEventView(tt.event)
			require.NotNil(t, view)
			assert.Equal(t, tt.want, view.Type)
			assert.Equal(t, "g-1", view.GroupID)
		})
	}
}
