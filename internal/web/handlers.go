package web

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/hpungsan/logsift/internal/ops"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

// Handlers contains HTTP route handlers for the admin API.
type Handlers struct {
	engine   *store.Engine
	registry *rules.Registry
	started  time.Time
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	out := ops.Health(h.engine, h.registry, h.started)
	status := http.StatusOK
	if out.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	renderJSON(w, status, out)
}

// HandleSites handles GET /sites: live row counts per open origin.
// ?strict=true waits for every queued command first.
func (h *Handlers) HandleSites(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Stats(r.Context(), h.engine, ops.StatsInput{Strict: parseBoolParam(r, "strict")})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleSnapshot handles POST /sites/{origin}/snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Snapshot(r.Context(), h.engine, ops.SnapshotInput{Origin: r.PathValue("origin")})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusAccepted, out)
}

// HandleRotate handles POST /sites/{origin}/rotate.
func (h *Handlers) HandleRotate(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Rotate(r.Context(), h.engine, ops.RotateInput{Origin: r.PathValue("origin")})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusAccepted, out)
}

// HandleReload handles POST /rules/reload.
func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ReloadRules(h.registry)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFiles handles GET /files: database files in the data directory.
func (h *Handlers) HandleFiles(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Files(h.engine.DataDir(), ops.FilesInput{
		Origin: r.URL.Query().Get("origin"),
		Counts: parseBoolParam(r, "counts"),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleDownload handles GET /files/{name}: streams one database file.
// Active files may still be written to; download a snapshot for a
// consistent copy.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	f, err := ops.OpenDBFile(h.engine.DataDir(), r.PathValue("name"))
	if err != nil {
		renderError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		renderError(w, err)
		return
	}

	name := filepath.Base(f.Name())
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
