package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/term"
)

// fakeProc is an in-memory term.Process for transport tests.
type fakeProc struct {
	mu      sync.Mutex
	written []byte

	output chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeProc() *fakeProc {
	return &fakeProc{
		output: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeProc) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, os.ErrClosed
	case chunk := <-f.output:
		return copy(p, chunk), nil
	case <-time.After(5 * time.Millisecond):
		return 0, os.ErrDeadlineExceeded
	}
}

func (f *fakeProc) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeProc) Resize(int, int) error { return nil }

func (f *fakeProc) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeProc) Alive() bool {
	select {
	case <-f.closed:
		return false
	default:
		return true
	}
}

func (f *fakeProc) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

// testModule is a minimal in-process module used by the handler tests.
type testModule struct {
	plugin.Base
	contextCalls atomic.Int64
	installErr   error
	installGate  chan struct{}
	proc         *fakeProc
}

func newTestModule(id string) *testModule {
	return &testModule{
		Base: plugin.Base{ModuleID: id, ModuleName: "Test " + id, ModuleVer: "1.0.0"},
		proc: newFakeProc(),
	}
}

func (m *testModule) ContextData(context.Context, *http.Request) map[string]any {
	m.contextCalls.Add(1)
	return map[string]any{"items": []string{"a", "b"}}
}

func (m *testModule) Install(context.Context, *store.Tool) error {
	if m.installGate != nil {
		<-m.installGate
	}
	return m.installErr
}

func (m *testModule) ServiceVersion(context.Context) (string, bool) {
	return "9.9.9", true
}

func (m *testModule) SessionTypes() map[string]term.Factory {
	return map[string]term.Factory{
		"fake": func(map[string]string) (term.Process, error) {
			return m.proc, nil
		},
	}
}

type testEnv struct {
	server *Server
	store  *store.Store
	module *testModule
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Options{DBPath: filepath.Join(t.TempDir(), "solstice.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := &cmdrun.Runner{}
	registry := plugin.NewRegistry(st, runner)
	module := newTestModule("mock-tool")
	registry.Register(module)
	registry.SyncTools(context.Background(), false)

	manager := term.NewManager(registry)
	t.Cleanup(manager.CloseAll)

	srv := New(Options{
		Store:      st,
		Registry:   registry,
		Sessions:   manager,
		Runner:     runner,
		ContextTTL: time.Minute,
	})
	return &testEnv{server: srv, store: st, module: module}
}

func (env *testEnv) request(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/status", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["modules"].(float64) != 1 {
		t.Fatalf("modules = %v", body["modules"])
	}
}

func TestToolsListIncludesSyncedTool(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/tools", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var tools []toolSummary
	decode(t, w, &tools)
	if len(tools) != 1 || tools[0].Name != "mock-tool" {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].Status != store.ToolStatusNotInstalled || !tools[0].HasModule {
		t.Fatalf("tool row = %+v", tools[0])
	}
	if tools[0].DisplayName != "Test mock-tool" {
		t.Fatalf("display name = %q", tools[0].DisplayName)
	}
}

func TestToolDetailAndContextCache(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/tools/mock-tool?tab=items", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var detail map[string]any
	decode(t, w, &detail)
	if detail["service_version"] != "9.9.9" {
		t.Fatalf("service_version = %v", detail["service_version"])
	}
	if detail["context"] == nil {
		t.Fatal("context data missing")
	}

	// Second request within the TTL is served from cache.
	env.request(t, "GET", "/api/tools/mock-tool?tab=items", "")
	if calls := env.module.contextCalls.Load(); calls != 1 {
		t.Fatalf("ContextData called %d times, want 1", calls)
	}

	// A different tab is a different cache key.
	env.request(t, "GET", "/api/tools/mock-tool?tab=other", "")
	if calls := env.module.contextCalls.Load(); calls != 2 {
		t.Fatalf("ContextData called %d times, want 2", calls)
	}
}

func TestToolNotFound(t *testing.T) {
	env := newTestEnv(t)

	if w := env.request(t, "GET", "/api/tools/ghost", ""); w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestInstallFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/tools/mock-tool/install", "")
	if w.Code != 202 {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tool, err := env.store.GetTool(context.Background(), "mock-tool")
		if err != nil {
			t.Fatalf("GetTool: %v", err)
		}
		if tool.Status == store.ToolStatusInstalled {
			if tool.Version != "9.9.9" {
				t.Fatalf("version after install = %q", tool.Version)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("install never completed, status %q", tool.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInstallConcurrentRequestsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.module.installGate = make(chan struct{})

	// The first request claims the installing status before returning, so
	// the second deterministically races against an in-flight install.
	if w := env.request(t, "POST", "/api/tools/mock-tool/install", ""); w.Code != 202 {
		t.Fatalf("first install status = %d, want 202", w.Code)
	}
	if w := env.request(t, "POST", "/api/tools/mock-tool/install", ""); w.Code != 409 {
		t.Fatalf("second install status = %d, want 409", w.Code)
	}

	close(env.module.installGate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		tool, err := env.store.GetTool(context.Background(), "mock-tool")
		if err != nil {
			t.Fatalf("GetTool: %v", err)
		}
		if tool.Status == store.ToolStatusInstalled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("install never completed, status %q", tool.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInstallFailureMarksError(t *testing.T) {
	env := newTestEnv(t)
	env.module.installErr = os.ErrPermission

	if w := env.request(t, "POST", "/api/tools/mock-tool/install", ""); w.Code != 202 {
		t.Fatalf("status = %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tool, _ := env.store.GetTool(context.Background(), "mock-tool")
		if tool.Status == store.ToolStatusError {
			if tool.CurrentStage == "" {
				t.Fatal("failure stage not recorded")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("install never failed, status %q", tool.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToolTargetUnhandledIsNoContent(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/tools/mock-tool/hx?target=unknown", "")
	if w.Code != 204 {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestRegistriesCRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/registries",
		`{"name":"hub","url":"index.docker.io/v1/","username":"bob","password":"s3cret"}`)
	if w.Code != 201 {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var created map[string]int64
	decode(t, w, &created)

	w = env.request(t, "GET", "/api/registries", "")
	var regs []map[string]any
	decode(t, w, &regs)
	if len(regs) != 1 || regs[0]["name"] != "hub" {
		t.Fatalf("registries = %+v", regs)
	}
	if _, leaked := regs[0]["password"]; leaked {
		t.Fatal("password leaked in listing")
	}

	w = env.request(t, "DELETE", "/api/registries/1", "")
	if w.Code != 204 {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := env.request(t, "DELETE", "/api/registries/1", ""); w.Code != 404 {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}

func TestRegistriesRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)

	if w := env.request(t, "POST", "/api/registries", `{"name":""}`); w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSessionsListEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/sessions", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestModuleRouteDispatch(t *testing.T) {
	env := newTestEnv(t)

	// mock-tool contributes no routes, so its namespace resolves but the
	// route itself does not.
	if w := env.request(t, "GET", "/api/modules/mock-tool/anything", ""); w.Code != 404 {
		t.Fatalf("status = %d", w.Code)
	}
	if w := env.request(t, "GET", "/api/modules/ghost/route", ""); w.Code != 404 {
		t.Fatalf("status = %d", w.Code)
	}
}
