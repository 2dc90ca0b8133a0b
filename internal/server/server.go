// Copyright 2025 James Ross
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Options configures the runtime HTTP server.
type Options struct {
	Port               int
	CORSOrigin         string
	CORSMethods        []string
	CORSAllowedHeaders []string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

// Server is the runtime's single HTTP surface: management routes,
// metrics, websocket streams, and every plugin-contributed route share
// it. Routes are unique per (method, path).
type Server struct {
	opts   Options
	log    *zap.Logger
	router *mux.Router
	srv    *http.Server
	ln     net.Listener

	mu     sync.Mutex
	routes map[string]struct{}
}

// New builds a server. The standard middleware chain wraps the whole
// router: panic recovery outermost, then request ids, then CORS, so
// preflight requests are answered before route matching.
func New(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		log:    log,
		router: mux.NewRouter(),
		routes: make(map[string]struct{}),
	}
}

// Handler is the fully wrapped handler chain; exported for tests that
// drive the server without a listener.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	if s.opts.CORSOrigin != "" {
		handler = CORSMiddleware(s.opts.CORSOrigin, s.opts.CORSMethods, s.opts.CORSAllowedHeaders)(handler)
	}
	handler = RequestIDMiddleware()(handler)
	handler = RecoveryMiddleware(s.log)(handler)
	return handler
}

// Handle mounts a route, enforcing (method, path) uniqueness. Extra
// middleware wraps only this route.
func (s *Server) Handle(method, path string, handler http.Handler, middleware ...mux.MiddlewareFunc) error {
	method = strings.ToUpper(method)
	key := method + " " + path
	s.mu.Lock()
	if _, exists := s.routes[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("route already registered: %s", key)
	}
	s.routes[key] = struct{}{}
	s.mu.Unlock()

	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	s.router.Handle(path, handler).Methods(method)
	s.log.Debug("route mounted", zap.String("method", method), zap.String("path", path))
	return nil
}

// HandleFunc is Handle for plain handler functions.
func (s *Server) HandleFunc(method, path string, handler http.HandlerFunc, middleware ...mux.MiddlewareFunc) error {
	return s.Handle(method, path, handler, middleware...)
}

// Router exposes the underlying router for handlers that need it.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start binds the listener synchronously, so a taken port fails boot,
// then serves in the background. Port 0 asks the system for a free one.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("bind server: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound address, useful with port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// WriteJSON renders a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders the standard error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
