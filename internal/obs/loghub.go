// Copyright 2025 James Ross
package obs

import (
	"sync"

	"github.com/gorilla/websocket"
)

// LogHub fans encoded log lines out to attached websocket clients. It
// doubles as a zapcore sink: every Write broadcasts one encoded entry.
// A client whose write fails is closed and dropped. Writes carry no
// deadline, so a slow client holds up the logger until its write returns.
type LogHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewLogHub returns an empty hub.
func NewLogHub() *LogHub {
	return &LogHub{conns: make(map[*websocket.Conn]struct{})}
}

// Attach adds a client connection to the broadcast set.
func (h *LogHub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Detach removes a client connection.
func (h *LogHub) Detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Write broadcasts one encoded log entry. Always reports success so a
// dead client cannot surface as a logging error.
func (h *LogHub) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
	return len(p), nil
}

// Sync satisfies zapcore.WriteSyncer.
func (h *LogHub) Sync() error { return nil }

// ClientCount reports the number of attached clients.
func (h *LogHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
