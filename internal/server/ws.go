// Copyright 2025 James Ross
package server

import (
	"net/http"

	"github.com/0xPBIT/maiar-ai-sub000/internal/monitor"
	"github.com/0xPBIT/maiar-ai-sub000/internal/obs"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS policy is enforced by the surrounding middleware; the
	// upgrade itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LogStreamHandler upgrades the connection and attaches it to the log
// hub, so clients see every log line the websocket transport emits.
func LogStreamHandler(hub *obs.LogHub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("log stream upgrade failed", zap.Error(err))
			return
		}
		hub.Attach(conn)
		// Reads are discarded; the read loop exists to notice the peer
		// going away.
		go func() {
			defer func() {
				hub.Detach(conn)
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// MonitorStreamHandler streams monitoring events to the client as JSON
// messages until the peer disconnects.
func MonitorStreamHandler(bus *monitor.Bus, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("monitor stream upgrade failed", zap.Error(err))
			return
		}
		events, cancel := bus.Subscribe(128)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			defer func() {
				cancel()
				conn.Close()
			}()
			for {
				select {
				case evt, ok := <-events:
					if !ok {
						return
					}
					if err := conn.WriteJSON(evt); err != nil {
						return
					}
				case <-closed:
					return
				}
			}
		}()
	}
}
