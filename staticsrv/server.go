// Package staticsrv serves the application directory over a loopback address
// for the lifetime of one visual run.
package staticsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr binds an ephemeral loopback port.
const DefaultAddr = "127.0.0.1:0"

// shutdownTimeout bounds Close.
const shutdownTimeout = 5 * time.Second

// Server is a running static file server.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	base   string
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
	err    error
}

// Start binds addr (DefaultAddr when empty) and serves root in a background
// goroutine. The caller must Close the server on every exit path.
func Start(root, addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("staticsrv: listen %s: %w", addr, err)
	}

	s := &Server{
		ln:     ln,
		base:   "http://" + ln.Addr().String(),
		logger: logger,
		done:   make(chan struct{}),
	}
	s.srv = &http.Server{
		Handler:           Router(root, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("staticsrv: serve failed", "error", err)
		}
	}()

	logger.Info("staticsrv: serving", "root", root, "addr", s.base)
	return s, nil
}

// Router returns the chi handler serving root. Responses are never cached so
// every run loads the files as they are on disk.
func Router(root string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(requestLog(logger))
	r.Handle("/*", fileHandler(http.Dir(root)))
	return r
}

// fileHandler serves regular files in place. http.FileServer would answer
// /dir/index.html with a redirect to /dir/; the page must load from the exact
// URL it was asked for. Directories and missing paths fall through to
// http.FileServer for listings, index redirects and 404s.
func fileHandler(dir http.Dir) http.Handler {
	fallback := http.FileServer(dir)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := dir.Open(path.Clean("/" + r.URL.Path))
		if err != nil {
			fallback.ServeHTTP(w, r)
			return
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil || fi.IsDir() {
			fallback.ServeHTTP(w, r)
			return
		}
		http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	})
}

func requestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("staticsrv: request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status())
		})
	}
}

// BaseURL returns "http://host:port".
func (s *Server) BaseURL() string { return s.base }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// URL joins path onto the base URL.
func (s *Server) URL(path string) string {
	return s.base + "/" + strings.TrimLeft(path, "/")
}

// Close shuts the server down, closes the socket and waits for the serving
// goroutine to return. Safe to call more than once.
func (s *Server) Close() error {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			s.err = fmt.Errorf("staticsrv: shutdown: %w", err)
			s.srv.Close()
		}
		<-s.done
		s.logger.Info("staticsrv: stopped", "addr", s.base)
	})
	return s.err
}
