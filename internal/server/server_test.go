// Copyright 2025 James Ross
package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return New(Options{
		CORSOrigin:         "*",
		CORSMethods:        []string{"GET", "POST"},
		CORSAllowedHeaders: []string{"Content-Type"},
	}, nil)
}

func TestRouteUniqueness(t *testing.T) {
	s := newTestServer()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	require.NoError(t, s.HandleFunc("POST", "/message", ok))
	require.NoError(t, s.HandleFunc("GET", "/message", ok))
	err := s.HandleFunc("POST", "/message", ok)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRequestIDAssigned(t *testing.T) {
	s := newTestServer()
	var seen string
	require.NoError(t, s.HandleFunc("GET", "/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.HandleFunc("GET", "/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "given-id")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "given-id", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.HandleFunc("POST", "/message", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/message", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.HandleFunc("GET", "/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

func TestRouteMiddlewareWrapsSingleRoute(t *testing.T) {
	s := newTestServer()
	tagged := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Tagged", "yes")
			next.ServeHTTP(w, r)
		})
	}
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	require.NoError(t, s.HandleFunc("GET", "/tagged", ok, tagged))
	require.NoError(t, s.HandleFunc("GET", "/plain", ok))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/tagged", nil))
	assert.Equal(t, "yes", rec.Header().Get("X-Tagged"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/plain", nil))
	assert.Empty(t, rec.Header().Get("X-Tagged"))
}

func TestStartBindsAndShutsDown(t *testing.T) {
	s := New(Options{Port: 0}, nil)
	require.NoError(t, s.HandleFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://" + net.JoinHostPort("127.0.0.1", port) + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(t.Context()))
}
