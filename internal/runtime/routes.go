// Copyright 2025 James Ross
package runtime

import (
	"net/http"

	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"github.com/0xPBIT/maiar-ai-sub000/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// mountStreams attaches the websocket endpoints to the freshly started
// server: the log transport hub and the monitor event stream.
func (r *Runtime) mountStreams() error {
	if path := r.cfg.Server.LogStreamPath; path != "" {
		if err := r.server.Handle("GET", path, server.LogStreamHandler(r.hub, obs.Scope(r.log, "logstream"))); err != nil {
			return err
		}
	}
	if path := r.cfg.Server.MonitorStreamPath; path != "" {
		if err := r.server.Handle("GET", path, server.MonitorStreamHandler(r.bus, obs.Scope(r.log, "monitorstream"))); err != nil {
			return err
		}
	}
	return nil
}

// mountManagementRoutes exposes health, metrics, and the template
// listing.
func (r *Runtime) mountManagementRoutes() error {
	if err := r.server.HandleFunc("GET", "/healthz", func(w http.ResponseWriter, req *http.Request) {
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}); err != nil {
		return err
	}
	if err := r.server.Handle("GET", "/metrics", promhttp.Handler()); err != nil {
		return err
	}
	return r.server.HandleFunc("GET", "/prompts", r.handlePrompts)
}

// handlePrompts lists every registered template with its raw contents.
func (r *Runtime) handlePrompts(w http.ResponseWriter, req *http.Request) {
	infos, err := r.templates.List()
	if err != nil {
		r.log.Error("template listing failed", obs.Err(err))
		server.WriteError(w, http.StatusInternalServerError, "TEMPLATE_READ", "failed to read templates")
		return
	}
	server.WriteJSON(w, http.StatusOK, infos)
}
