// Package web serves the admin HTTP API: health, per-site stats, snapshot
// and rotate requests, rule reloads, database downloads and the live
// notification feed.
package web

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/notify"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

// Deps are the components the admin API drives.
type Deps struct {
	Engine   *store.Engine
	Registry *rules.Registry
	Hub      *notify.Hub // optional live feed
	Started  time.Time
}

// NewServer creates the admin HTTP server listening on addr.
func NewServer(deps Deps, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewHandler builds the route table wrapped with security headers.
func NewHandler(deps Deps) http.Handler {
	h := &Handlers{
		engine:   deps.Engine,
		registry: deps.Registry,
		started:  deps.Started,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /sites", h.HandleSites)
	mux.HandleFunc("POST /sites/{origin}/snapshot", h.HandleSnapshot)
	mux.HandleFunc("POST /sites/{origin}/rotate", h.HandleRotate)
	mux.HandleFunc("POST /rules/reload", h.HandleReload)
	mux.HandleFunc("GET /files", h.HandleFiles)
	mux.HandleFunc("GET /files/{name}", h.HandleDownload)
	if deps.Hub != nil {
		mux.Handle("GET /ws/notifications", deps.Hub)
	}

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx is done, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, srv, ln)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("admin API listening")
	if host, _, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
			log.Warn().Msg("admin API is binding to all interfaces and may be accessible from the network")
		}
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("admin API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
