package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/notify"
	"github.com/hpungsan/logsift/internal/ops"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

type testEnv struct {
	handler http.Handler
	engine  *store.Engine
	queue   *notify.Queue
	hub     *notify.Hub
	rules   string
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	q := notify.NewQueue()
	eng, err := store.New(store.Options{DataDir: filepath.Join(dir, "data"), RotateLimit: 100}, q)
	require.NoError(t, err)
	eng.Start()
	t.Cleanup(eng.Stop)

	rulesPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`{"a.com":{"important_methods":["POST"]}}`), 0600))
	reg := rules.NewRegistry(rulesPath)
	require.NoError(t, reg.Reload())

	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	return &testEnv{
		handler: NewHandler(Deps{Engine: eng, Registry: reg, Hub: hub, Started: time.Now()}),
		engine:  eng,
		queue:   q,
		hub:     hub,
		rules:   rulesPath,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) write(t *testing.T, origin string) {
	t.Helper()
	ev := &event.Event{Origin: origin, Host: origin, Method: "POST", URI: "/", Status: 200,
		Headers: "{}", Body: "{}", RespHeaders: "{}"}
	require.NoError(t, e.engine.Write(context.Background(), ev, false, ""))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	out := decode[ops.HealthOutput](t, rec)
	require.Equal(t, "ok", out.Status)
	require.Equal(t, 1, out.RuleSites)

	env.engine.Stop()
	rec = env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSites_Strict(t *testing.T) {
	env := setupTest(t)
	env.write(t, "a.com")
	env.write(t, "a.com")

	rec := env.do(t, http.MethodGet, "/sites?strict=true")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ops.StatsOutput](t, rec)
	require.True(t, out.Strict)
	require.Equal(t, []ops.SiteStat{{Origin: "a.com", Rows: 2}}, out.Sites)
}

func TestSnapshotAndRotate(t *testing.T) {
	env := setupTest(t)
	env.write(t, "a.com")

	rec := env.do(t, http.MethodPost, "/sites/A.com/snapshot")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, ops.QueuedOutput{Origin: "a.com", Action: "snapshot", Status: "queued"}, decode[ops.QueuedOutput](t, rec))

	rec = env.do(t, http.MethodPost, "/sites/a.com/rotate")
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, err := env.engine.SyncActiveSites(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, env.queue.Len())
}

func TestRotate_WrongMethod(t *testing.T) {
	env := setupTest(t)
	rec := env.do(t, http.MethodGet, "/sites/a.com/rotate")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSnapshot_InvalidOrigin(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, http.MethodPost, "/sites/:443/snapshot")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorBody](t, rec)
	require.Equal(t, "INVALID_REQUEST", body.Error.Code)
	require.Equal(t, 400, body.Error.Status)
}

func TestSnapshot_EngineStopped(t *testing.T) {
	env := setupTest(t)
	env.engine.Stop()

	rec := env.do(t, http.MethodPost, "/sites/a.com/snapshot")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "ENGINE_STOPPED", decode[ErrorBody](t, rec).Error.Code)
}

func TestReload(t *testing.T) {
	env := setupTest(t)

	require.NoError(t, os.WriteFile(env.rules, []byte(`{"a.com":{},"b.com":{}}`), 0600))
	rec := env.do(t, http.MethodPost, "/rules/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ops.ReloadOutput](t, rec)
	require.Equal(t, []string{"a.com", "b.com"}, out.Origins)

	require.NoError(t, os.WriteFile(env.rules, []byte(`not json`), 0600))
	rec = env.do(t, http.MethodPost, "/rules/reload")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "RULES_LOAD_FAILED", decode[ErrorBody](t, rec).Error.Code)
}

func TestFilesAndDownload(t *testing.T) {
	env := setupTest(t)
	env.write(t, "a.com")
	require.NoError(t, env.engine.RequestSnapshot(context.Background(), "a.com"))
	_, err := env.engine.SyncActiveSites(context.Background())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/files?origin=a.com&counts=true")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ops.FilesOutput](t, rec)
	require.Len(t, out.Files, 2)

	var snapshot string
	for _, f := range out.Files {
		if f.Kind == ops.FileSnapshot {
			snapshot = f.Name
			require.NotNil(t, f.Rows)
			require.Equal(t, 1, *f.Rows)
		}
	}
	require.NotEmpty(t, snapshot)

	rec = env.do(t, http.MethodGet, "/files/"+snapshot)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.sqlite3", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), snapshot)
	require.True(t, strings.HasPrefix(rec.Body.String(), "SQLite format 3"))
}

func TestDownload_Rejected(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, http.MethodGet, "/files/missing.db")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/files/notes.txt")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationFeed(t *testing.T) {
	env := setupTest(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/notifications", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	rec := notify.NewPreview("a.com", "hi")
	require.NoError(t, env.hub.Deliver(context.Background(), rec))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got notify.Record
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, rec.ID, got.ID)
}

func TestServe_GracefulShutdown(t *testing.T) {
	env := setupTest(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: env.handler}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
