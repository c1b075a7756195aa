// Package ingest accepts newline-delimited JSON access logs over TCP, the
// way Caddy's net log writer sends them.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/errors"
)

// Defaults for zero-valued Options fields.
const (
	DefaultMaxLineBytes = 1 << 20
	DefaultIdleTimeout  = 5 * time.Minute
)

// LineHandler processes one complete line, without its trailing newline.
// The slice is only valid for the duration of the call.
type LineHandler interface {
	HandleLine(ctx context.Context, line []byte) error
}

// Options configures a Server.
type Options struct {
	MaxLineBytes int
	IdleTimeout  time.Duration
}

// Server reads lines from every accepted connection and hands them to a
// LineHandler. Bad lines are logged and skipped; they never close the
// connection.
type Server struct {
	handler LineHandler
	opts    Options

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server feeding handler.
func NewServer(handler LineHandler, opts Options) *Server {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Server{handler: handler, opts: opts, conns: make(map[net.Conn]struct{})}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. On return the listener
// and every open connection are closed and all connection goroutines have
// exited.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("ingest listening")

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				var ne net.Error
				if stderrors.As(err, &ne) && ne.Timeout() {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				acceptErr = err
			}
			break
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}

	ln.Close()
	s.closeConns()
	s.wg.Wait()
	log.Info().Msg("ingest stopped")
	return acceptErr
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
}

// closeConns closes every tracked connection and refuses new ones.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log.Debug().Str("remote", remote).Msg("ingest connection opened")

	r := bufio.NewReaderSize(conn, 64<<10)
	var buf []byte
	oversized := false

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		chunk, err := r.ReadSlice('\n')

		switch {
		case err == nil:
			if oversized {
				oversized = false
			} else if len(buf)+len(chunk) > s.opts.MaxLineBytes+1 {
				s.dropOversized(remote)
			} else {
				buf = append(buf, chunk...)
				s.dispatch(ctx, remote, buf)
			}
			buf = buf[:0]
			continue

		case stderrors.Is(err, bufio.ErrBufferFull):
			if !oversized {
				if len(buf)+len(chunk) > s.opts.MaxLineBytes {
					s.dropOversized(remote)
					oversized = true
					buf = buf[:0]
				} else {
					buf = append(buf, chunk...)
				}
			}
			continue
		}

		// EOF or a read error. An unterminated final line is still a line.
		if !oversized && len(buf)+len(chunk) > 0 && len(buf)+len(chunk) <= s.opts.MaxLineBytes {
			s.dispatch(ctx, remote, append(buf, chunk...))
		}
		switch {
		case stderrors.Is(err, io.EOF):
		case stderrors.Is(err, os.ErrDeadlineExceeded):
			log.Info().Str("remote", remote).Msg("ingest connection idle, closing")
		case ctx.Err() != nil:
		default:
			log.Warn().Err(err).Str("remote", remote).Msg("ingest read failed")
		}
		log.Debug().Str("remote", remote).Msg("ingest connection closed")
		return
	}
}

func (s *Server) dropOversized(remote string) {
	log.Warn().Str("remote", remote).Int("max_bytes", s.opts.MaxLineBytes).Msg("ingest line too long, skipped")
}

func (s *Server) dispatch(ctx context.Context, remote string, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	err := s.handler.HandleLine(ctx, line)
	if err == nil {
		return
	}
	if errors.Is(err, errors.ErrInvalidEvent) {
		log.Warn().Err(err).Str("remote", remote).Msg("malformed log line skipped")
		return
	}
	log.Error().Err(err).Str("remote", remote).Msg("log line not stored")
}
