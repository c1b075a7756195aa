package store

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/notify"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestEngine(t *testing.T, limit int) (*Engine, *notify.Queue, string) {
	t.Helper()
	dir := t.TempDir()
	q := notify.NewQueue()
	e, err := New(Options{DataDir: dir, RotateLimit: limit, Now: func() time.Time { return fixedNow }}, q)
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Stop)
	return e, q, dir
}

func testEvent(origin string) *event.Event {
	return &event.Event{
		Origin: origin, Host: origin, RemoteIP: "198.51.100.1",
		Method: "POST", URI: "/login", Status: 200,
		Headers: "{}", Body: "{}", RespHeaders: "{}",
	}
}

func syncCounts(t *testing.T, e *Engine) map[string]int {
	t.Helper()
	counts, err := e.SyncActiveSites(context.Background())
	require.NoError(t, err)
	return counts
}

func drain(q *notify.Queue) []notify.Record {
	var out []notify.Record
	for {
		rec, ok := q.TryNext()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestEngine_WriteCounts(t *testing.T) {
	e, q, dir := newTestEngine(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	}
	require.NoError(t, e.Write(ctx, testEvent("b.com"), false, ""))

	require.Equal(t, map[string]int{"a.com": 3, "b.com": 1}, syncCounts(t, e))
	require.Equal(t, map[string]int{"a.com": 3, "b.com": 1}, e.ActiveSites())
	require.Empty(t, drain(q))
	require.FileExists(t, filepath.Join(dir, "a.com.db"))
}

func TestEngine_VeryImportantPublishesPreview(t *testing.T) {
	e, q, _ := newTestEngine(t, 10)

	require.NoError(t, e.Write(context.Background(), testEvent("a.com"), true, "🆕 200 POST /login"))
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, 1)
	require.Equal(t, notify.KindPreview, recs[0].Kind)
	require.Equal(t, "a.com", recs[0].Origin)
	require.Equal(t, "🆕 200 POST /login", recs[0].Preview)
}

func TestEngine_RotatesAtLimit(t *testing.T) {
	e, q, dir := newTestEngine(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	}
	require.Empty(t, syncCounts(t, e))

	recs := drain(q)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, notify.KindFile, rec.Kind)
	require.Equal(t, "Limit Reached 🔁", rec.Reason)
	require.True(t, rec.DeleteAfter)
	require.Equal(t, filepath.Join(dir, "log_a.com_1700000000.db"), rec.Path)
	require.NoFileExists(t, filepath.Join(dir, "a.com.db"))

	n, err := CountRows(rec.Path)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// The next write starts a fresh database.
	require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	require.Equal(t, map[string]int{"a.com": 1}, syncCounts(t, e))
}

func TestEngine_RotationCarriesPreview(t *testing.T) {
	e, q, _ := newTestEngine(t, 2)
	ctx := context.Background()

	require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	require.NoError(t, e.Write(ctx, testEvent("a.com"), true, "preview text"))
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, 1, "a rotating write must not also publish a preview")
	require.Equal(t, notify.KindFile, recs[0].Kind)
	require.Equal(t, "Limit Reached AND Important Log 🔁", recs[0].Reason)
	require.Equal(t, "preview text", recs[0].Preview)
}

func TestEngine_Snapshot(t *testing.T) {
	e, q, dir := newTestEngine(t, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	}
	require.NoError(t, e.RequestSnapshot(ctx, "a.com"))
	require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))

	require.Equal(t, map[string]int{"a.com": 5}, syncCounts(t, e))

	recs := drain(q)
	require.Len(t, recs, 1)
	require.Equal(t, notify.ReasonSnapshot, recs[0].Reason)
	require.True(t, recs[0].DeleteAfter)
	require.Equal(t, filepath.Join(dir, "snapshot_a.com_1700000000.db"), recs[0].Path)

	n, err := CountRows(recs[0].Path)
	require.NoError(t, err)
	require.Equal(t, 4, n, "snapshot holds exactly the writes queued before it")
	require.FileExists(t, filepath.Join(dir, "a.com.db"))
}

func TestEngine_SnapshotOfNewOrigin(t *testing.T) {
	e, q, _ := newTestEngine(t, 10)

	require.NoError(t, e.RequestSnapshot(context.Background(), "new.com"))
	require.Equal(t, map[string]int{"new.com": 0}, syncCounts(t, e))

	recs := drain(q)
	require.Len(t, recs, 1)
	n, err := CountRows(recs[0].Path)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngine_SnapshotNameCollision(t *testing.T) {
	e, q, dir := newTestEngine(t, 10)
	ctx := context.Background()

	require.NoError(t, e.RequestSnapshot(ctx, "a.com"))
	require.NoError(t, e.RequestSnapshot(ctx, "a.com"))
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, 2)
	require.Equal(t, filepath.Join(dir, "snapshot_a.com_1700000000.db"), recs[0].Path)
	require.Equal(t, filepath.Join(dir, "snapshot_a.com_1700000000_1.db"), recs[1].Path)
}

func TestEngine_UserRotate(t *testing.T) {
	e, q, dir := newTestEngine(t, 10)
	ctx := context.Background()

	require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	require.NoError(t, e.RequestRotate(ctx, "a.com"))
	require.Empty(t, syncCounts(t, e))

	recs := drain(q)
	require.Len(t, recs, 1)
	require.Equal(t, "User Command 🔁", recs[0].Reason)
	require.Empty(t, recs[0].Preview)
	require.NoFileExists(t, filepath.Join(dir, "a.com.db"))

	// A second rotate finds nothing to archive.
	require.NoError(t, e.RequestRotate(ctx, "a.com"))
	syncCounts(t, e)
	require.Empty(t, drain(q))
}

func TestEngine_RotateClosedOriginWithFile(t *testing.T) {
	dir := t.TempDir()
	insertN(t, filepath.Join(dir, "old.com.db"), 2)

	q := notify.NewQueue()
	e, err := New(Options{DataDir: dir, RotateLimit: 10, Now: func() time.Time { return fixedNow }}, q)
	require.NoError(t, err)
	e.Start()
	defer e.Stop()

	require.NoError(t, e.RequestRotate(context.Background(), "old.com"))
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, 1)
	n, err := CountRows(recs[0].Path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestEngine_RotateReplaysLeftoverWAL(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "a.com.db")
	db, err := openOrigin(srcPath)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := db.Exec(insertSQL, testEvent("a.com").Row()...)
		require.NoError(t, err)
	}

	// Copy the files while the handle is open: the rows live only in the WAL,
	// as after a crash.
	dir := t.TempDir()
	for _, name := range []string{"a.com.db", "a.com.db-wal"} {
		b, err := os.ReadFile(filepath.Join(src, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), b, 0600))
	}
	require.NoError(t, db.Close())

	q := notify.NewQueue()
	e, err := New(Options{DataDir: dir, RotateLimit: 100, Now: func() time.Time { return fixedNow }}, q)
	require.NoError(t, err)
	e.Start()
	defer e.Stop()

	require.NoError(t, e.RequestRotate(context.Background(), "a.com"))
	require.Empty(t, syncCounts(t, e))

	recs := drain(q)
	require.Len(t, recs, 1)
	n, err := CountRows(recs[0].Path)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoFileExists(t, filepath.Join(dir, "a.com.db"))
	require.NoFileExists(t, filepath.Join(dir, "a.com.db-wal"))

	// The next write starts a fresh database.
	require.NoError(t, e.Write(context.Background(), testEvent("a.com"), false, ""))
	require.Equal(t, map[string]int{"a.com": 1}, syncCounts(t, e))
}

func TestEngine_FailedRotationKeepsPreview(t *testing.T) {
	dir := t.TempDir()
	q := notify.NewQueue()
	e, err := New(Options{DataDir: dir, RotateLimit: 1, Now: func() time.Time { return fixedNow }}, q)
	require.NoError(t, err)
	e.rename = func(string, string) error { return stderrors.New("device busy") }
	e.Start()
	defer e.Stop()

	require.NoError(t, e.Write(context.Background(), testEvent("a.com"), true, "🆕 200 POST /login"))
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, 1)
	require.Equal(t, notify.KindPreview, recs[0].Kind)
	require.Equal(t, "🆕 200 POST /login", recs[0].Preview)
	// The active file stays put for the next attempt.
	require.FileExists(t, filepath.Join(dir, "a.com.db"))
}

func TestEngine_ResumesCountFromFile(t *testing.T) {
	dir := t.TempDir()
	insertN(t, filepath.Join(dir, "a.com.db"), 2)

	q := notify.NewQueue()
	e, err := New(Options{DataDir: dir, RotateLimit: 3, Now: func() time.Time { return fixedNow }}, q)
	require.NoError(t, err)
	e.Start()
	defer e.Stop()

	require.NoError(t, e.Write(context.Background(), testEvent("a.com"), false, ""))
	require.Empty(t, syncCounts(t, e))
	require.Len(t, drain(q), 1)
}

func TestEngine_OpenFailureIsolated(t *testing.T) {
	e, q, dir := newTestEngine(t, 10)
	ctx := context.Background()

	// A directory where the database file should be makes open fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "bad.com.db"), 0700))

	require.NoError(t, e.Write(ctx, testEvent("bad.com"), true, "lost"))
	require.NoError(t, e.Write(ctx, testEvent("good.com"), false, ""))

	require.Equal(t, map[string]int{"good.com": 1}, syncCounts(t, e))
	require.Empty(t, drain(q))
}

func TestEngine_OrderAcrossOrigins(t *testing.T) {
	e, q, _ := newTestEngine(t, 100)
	ctx := context.Background()

	origins := []string{"a.com", "b.com", "a.com", "c.com", "b.com"}
	for i, o := range origins {
		require.NoError(t, e.Write(ctx, testEvent(o), true, o+string(rune('0'+i))))
	}
	syncCounts(t, e)

	recs := drain(q)
	require.Len(t, recs, len(origins))
	for i, o := range origins {
		require.Equal(t, o, recs[i].Origin)
		require.Equal(t, o+string(rune('0'+i)), recs[i].Preview)
	}
}

func TestEngine_RejectsUnnormalizedOrigin(t *testing.T) {
	e, _, _ := newTestEngine(t, 10)
	ctx := context.Background()

	for _, origin := range []string{"", "../etc", "A.com", "a.com:80"} {
		err := e.RequestSnapshot(ctx, origin)
		require.True(t, errors.Is(err, errors.ErrInvalidRequest), "origin %q", origin)
	}
}

func TestEngine_StopClosesAndRejects(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Options{DataDir: dir, RotateLimit: 10}, notify.NewQueue())
	require.NoError(t, err)
	e.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Write(ctx, testEvent("a.com"), false, ""))
	}
	e.Stop()
	e.Stop()

	// Every write queued before Stop reached the file.
	n, err := CountRows(filepath.Join(dir, "a.com.db"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	err = e.Write(ctx, testEvent("a.com"), false, "")
	require.True(t, errors.Is(err, errors.ErrEngineStopped))

	_, err = e.SyncActiveSites(ctx)
	require.True(t, errors.Is(err, errors.ErrEngineStopped))
}

func TestEngine_StopWithoutStart(t *testing.T) {
	e, err := New(Options{DataDir: t.TempDir()}, notify.NewQueue())
	require.NoError(t, err)
	e.Stop()

	select {
	case <-e.Done():
	default:
		t.Fatal("Done() not closed")
	}
}

func TestNew_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	e, err := New(Options{DataDir: dir}, notify.NewQueue())
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.Equal(t, DefaultRotateLimit, e.RotateLimit())

	_, err = New(Options{}, notify.NewQueue())
	require.Error(t, err)
}

func TestEngine_StartAfterStop(t *testing.T) {
	e, err := New(Options{DataDir: t.TempDir()}, notify.NewQueue())
	require.NoError(t, err)
	e.Stop()
	require.NotPanics(t, e.Start)
	require.NotPanics(t, e.Stop)

	err = e.Write(context.Background(), testEvent("a.com"), false, "")
	require.True(t, errors.Is(err, errors.ErrEngineStopped))
}

func TestEngine_SurvivesPanickingCommand(t *testing.T) {
	e, q, _ := newTestEngine(t, 10)
	ctx := context.Background()

	// Bypasses validation: a write without an event panics in the worker.
	e.cmds <- WriteCmd{Origin: "a.com"}
	require.NoError(t, e.Write(ctx, testEvent("a.com"), true, "after"))

	require.Equal(t, map[string]int{"a.com": 1}, syncCounts(t, e))
	recs := drain(q)
	require.Len(t, recs, 1)
	require.Equal(t, "after", recs[0].Preview)
}

func TestEngine_ConcurrentWritesDuringStop(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Options{DataDir: dir, RotateLimit: 1000, QueueSize: 4}, notify.NewQueue())
	require.NoError(t, err)
	e.Start()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if e.Write(context.Background(), testEvent("a.com"), false, "") == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	e.Stop()
	wg.Wait()

	// Every accepted write reached the file; none was dropped behind the sentinel.
	n, err := CountRows(filepath.Join(dir, "a.com.db"))
	require.NoError(t, err)
	require.Equal(t, int(accepted.Load()), n)
}
