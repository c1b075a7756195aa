// Package store owns the per-origin SQLite databases. A single worker
// goroutine executes every command in arrival order, so each database
// handle is only ever touched by that goroutine and needs no locking.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/notify"
)

// Defaults for zero-valued Options fields.
const (
	DefaultRotateLimit = 1000
	DefaultQueueSize   = 4096
)

// Options configures an Engine.
type Options struct {
	DataDir     string
	RotateLimit int              // rows per database before rotation
	QueueSize   int              // command queue capacity
	Now         func() time.Time // clock for file timestamps
}

// originStore is the open database of one origin. Only the worker touches it.
type originStore struct {
	origin string
	path   string
	db     *sql.DB
	count  int
}

// Engine serializes all writes, snapshots and rotations through one queue.
type Engine struct {
	opts Options
	sink notify.Publisher

	cmds chan Command
	done chan struct{}

	// lifeMu orders Start against Stop; sendMu orders Enqueue against the
	// stop sentinel.
	lifeMu   sync.Mutex
	started  bool
	stopping atomic.Bool
	stopOnce sync.Once
	sendMu   sync.RWMutex

	// rename archives the active file.
	rename func(oldpath, newpath string) error

	// sites belongs to the worker goroutine.
	sites map[string]*originStore

	// counts mirrors sites' row counts for readers outside the worker.
	countsMu sync.RWMutex
	counts   map[string]int
}

// New creates the data directory and an engine that publishes to sink.
// Call Start to begin processing.
func New(opts Options, sink notify.Publisher) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.NewInvalidRequest("data dir is required")
	}
	if opts.RotateLimit <= 0 {
		opts.RotateLimit = DefaultRotateLimit
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Engine{
		opts:   opts,
		sink:   sink,
		cmds:   make(chan Command, opts.QueueSize),
		done:   make(chan struct{}),
		sites:  make(map[string]*originStore),
		counts: make(map[string]int),
		rename: os.Rename,
	}, nil
}

// DataDir returns the directory holding the databases.
func (e *Engine) DataDir() string { return e.opts.DataDir }

// RotateLimit returns the configured rotation threshold.
func (e *Engine) RotateLimit() int { return e.opts.RotateLimit }

// Start launches the worker. Calling it more than once, or after Stop, has
// no effect.
func (e *Engine) Start() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started || e.stopping.Load() {
		return
	}
	e.started = true
	go e.run()
}

// Stop queues the stop sentinel behind every pending command, then waits
// for the worker to close all databases and exit. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopping.Store(true)

		e.lifeMu.Lock()
		started := e.started
		e.lifeMu.Unlock()
		if !started {
			close(e.done)
			return
		}

		// Waits for in-flight Enqueue calls, so none lands behind the sentinel.
		e.sendMu.Lock()
		e.cmds <- stopCmd{}
		e.sendMu.Unlock()
	})
	<-e.done
}

// Done is closed once the worker has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Enqueue submits cmd. It blocks while the queue is full until there is room,
// ctx is done, or the engine stops. A nil return means the worker will
// execute cmd: once Stop has begun, Enqueue fails with ENGINE_STOPPED.
func (e *Engine) Enqueue(ctx context.Context, cmd Command) error {
	if err := validate(cmd); err != nil {
		return err
	}

	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.stopping.Load() {
		return errors.NewEngineStopped()
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.done:
		return errors.NewEngineStopped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write queues ev for its origin. It satisfies classify.Writer.
func (e *Engine) Write(ctx context.Context, ev *event.Event, veryImportant bool, preview string) error {
	return e.Enqueue(ctx, WriteCmd{Origin: ev.Origin, Event: ev, VeryImportant: veryImportant, Preview: preview})
}

// RequestSnapshot queues a snapshot of origin.
func (e *Engine) RequestSnapshot(ctx context.Context, origin string) error {
	return e.Enqueue(ctx, SnapshotCmd{Origin: origin})
}

// RequestRotate queues an operator rotation of origin.
func (e *Engine) RequestRotate(ctx context.Context, origin string) error {
	return e.Enqueue(ctx, RotateCmd{Origin: origin})
}

// QueueLen returns the number of commands waiting for the worker.
func (e *Engine) QueueLen() int { return len(e.cmds) }

// ActiveSites returns a copy of the live row counts per open origin. The
// read bypasses the queue, so it may not yet reflect commands still queued.
func (e *Engine) ActiveSites() map[string]int {
	e.countsMu.RLock()
	defer e.countsMu.RUnlock()
	out := make(map[string]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// SyncActiveSites returns the row counts after every command enqueued
// before the call has executed.
func (e *Engine) SyncActiveSites(ctx context.Context) (map[string]int, error) {
	reply := make(chan map[string]int, 1)
	if err := e.Enqueue(ctx, barrierCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case counts := <-reply:
		return counts, nil
	case <-e.done:
		return nil, errors.NewEngineStopped()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func validate(cmd Command) error {
	var origin string
	switch c := cmd.(type) {
	case WriteCmd:
		if c.Event == nil {
			return errors.NewInvalidRequest("write without event")
		}
		origin = c.Origin
	case SnapshotCmd:
		origin = c.Origin
	case RotateCmd:
		origin = c.Origin
	default:
		return nil
	}
	// Origins become file names; only normalized ones are accepted.
	if origin == "" || origin != event.NormalizeOrigin(origin) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid origin %q", origin))
	}
	return nil
}

// run is the worker loop. It only returns on the stop sentinel.
func (e *Engine) run() {
	defer close(e.done)
	log.Info().Str("data_dir", e.opts.DataDir).Int("rotate_limit", e.opts.RotateLimit).Msg("store engine started")

	for cmd := range e.cmds {
		if _, ok := cmd.(stopCmd); ok {
			break
		}
		e.execute(cmd)
	}

	e.closeAll()
	log.Info().Msg("store engine stopped")
}

// execute runs one command. Failures and panics are logged and the command
// is abandoned; they never stop the worker.
func (e *Engine) execute(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("command", fmt.Sprintf("%T", cmd)).Msg("store command panicked")
		}
	}()

	var err error
	switch c := cmd.(type) {
	case WriteCmd:
		err = e.handleWrite(c)
	case SnapshotCmd:
		err = e.handleSnapshot(c)
	case RotateCmd:
		err = e.rotate(c.Origin, notify.ReasonUserCommand, "")
	case barrierCmd:
		c.reply <- e.ActiveSites()
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if err != nil {
		log.Error().Err(err).Str("command", fmt.Sprintf("%T", cmd)).Msg("store command failed")
	}
}

func (e *Engine) handleWrite(c WriteCmd) error {
	site, err := e.site(c.Origin)
	if err != nil {
		return err
	}

	if _, err := site.db.Exec(insertSQL, c.Event.Row()...); err != nil {
		return errors.NewStorage(c.Origin, "insert", err)
	}
	site.count++
	e.setCount(c.Origin, site.count)

	if site.count >= e.opts.RotateLimit {
		reason := notify.ReasonLimitReached
		if c.VeryImportant {
			reason += notify.ReasonImportantSuffix
		}
		// The rotation record carries the preview; no separate preview record.
		if err := e.rotate(c.Origin, reason, c.Preview); err != nil {
			if c.VeryImportant {
				e.sink.Publish(notify.NewPreview(c.Origin, c.Preview))
			}
			return err
		}
		return nil
	}

	if c.VeryImportant {
		e.sink.Publish(notify.NewPreview(c.Origin, c.Preview))
	}
	return nil
}

func (e *Engine) handleSnapshot(c SnapshotCmd) error {
	// Opening creates an empty database when the origin has none yet.
	site, err := e.site(c.Origin)
	if err != nil {
		return err
	}

	dest := e.uniquePath("snapshot", c.Origin)
	if err := backupTo(context.Background(), site.db, dest); err != nil {
		_ = os.Remove(dest)
		return errors.NewStorage(c.Origin, "snapshot", err)
	}

	log.Info().Str("origin", c.Origin).Str("path", dest).Msg("snapshot written")
	e.sink.Publish(notify.NewFile(c.Origin, dest, notify.ReasonSnapshot, "", true))
	return nil
}

// rotate closes the origin's handle, drops it, and archives the active file.
// The next write or snapshot opens a fresh database. A missing active file
// makes rotation a no-op, so a repeated rotate never notifies twice.
//
// A file left by an earlier run is opened before archiving so SQLite
// replays its WAL, and the close checkpoints it into the main file.
func (e *Engine) rotate(origin, reason, preview string) error {
	active := e.activePath(origin)
	if _, ok := e.sites[origin]; !ok {
		if _, err := os.Stat(active); stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if _, err := e.site(origin); err != nil {
			return err
		}
	}

	site := e.sites[origin]
	if err := site.db.Close(); err != nil {
		log.Error().Err(err).Str("origin", origin).Msg("failed to close database before rotation")
	}
	delete(e.sites, origin)
	e.dropCount(origin)

	archive := e.uniquePath("log", origin)
	if err := e.rename(active, archive); err != nil {
		return errors.NewStorage(origin, "rotate", err)
	}
	// Sidecars that outlived the checkpoint belong to the archive.
	for _, suffix := range []string{"-wal", "-shm"} {
		if fileExists(active + suffix) {
			if err := e.rename(active+suffix, archive+suffix); err != nil {
				log.Warn().Err(err).Str("origin", origin).Str("file", active+suffix).Msg("failed to move sidecar with archive")
			}
		}
	}

	log.Info().Str("origin", origin).Str("path", archive).Str("reason", reason).Msg("database rotated")
	e.sink.Publish(notify.NewFile(origin, archive, reason+" "+notify.RotationMarker, preview, true))
	return nil
}

// site returns the open database for origin, opening it on first use.
// The row count resumes from whatever the file already holds.
func (e *Engine) site(origin string) (*originStore, error) {
	if s, ok := e.sites[origin]; ok {
		return s, nil
	}

	path := e.activePath(origin)
	db, err := openOrigin(path)
	if err != nil {
		return nil, errors.NewStorage(origin, "open", err)
	}
	count, err := countRows(db)
	if err != nil {
		db.Close()
		return nil, errors.NewStorage(origin, "open", err)
	}

	s := &originStore{origin: origin, path: path, db: db, count: count}
	e.sites[origin] = s
	e.setCount(origin, count)
	return s, nil
}

func (e *Engine) closeAll() {
	for origin, s := range e.sites {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Str("origin", origin).Msg("failed to close database")
		}
		delete(e.sites, origin)
	}
}

func (e *Engine) setCount(origin string, n int) {
	e.countsMu.Lock()
	e.counts[origin] = n
	e.countsMu.Unlock()
}

func (e *Engine) dropCount(origin string) {
	e.countsMu.Lock()
	delete(e.counts, origin)
	e.countsMu.Unlock()
}

// activePath is <data>/<origin>.db.
func (e *Engine) activePath(origin string) string {
	return filepath.Join(e.opts.DataDir, origin+".db")
}

// uniquePath returns <data>/<kind>_<origin>_<unix>.db, adding _<n> when a
// file with that name already exists (two operations in one second).
func (e *Engine) uniquePath(kind, origin string) string {
	base := fmt.Sprintf("%s_%s_%d", kind, origin, e.opts.Now().Unix())
	path := filepath.Join(e.opts.DataDir, base+".db")
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(e.opts.DataDir, fmt.Sprintf("%s_%d.db", base, n))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
