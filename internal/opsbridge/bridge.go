// Package opsbridge implements the Ops Telemetry Bridge (C13): a live
// feed of verdict reports to connected operator dashboards, over both a
// Socket.IO namespace and a plain websocket endpoint — grounded on the
// teacher's "Synapse Bridge" (cmd/probe/main.go's setupSocketServer and
// its BroadcastToNamespace calls).
package opsbridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	socketio "github.com/googollee/go-socket.io"

	"github.com/qguardian/qguardian/internal/verdict"
)

// Bridge fans out completed reports to every connected dashboard, over
// whichever transport it connected with.
type Bridge struct {
	io *socketio.Server

	upgrader websocket.Upgrader
	mu       sync.Mutex
	wsConns  map[*websocket.Conn]struct{}
}

// New builds the Socket.IO server and websocket upgrader. Mount
// SocketIOHandler and ServeWebsocket on a mux to expose the routes.
func New() *Bridge {
	server := socketio.NewServer(nil)

	server.OnConnect("/ops", func(s socketio.Conn) error {
		s.SetContext("")
		slog.Debug("ops dashboard connected", "conn_id", s.ID())
		return nil
	})
	server.OnDisconnect("/ops", func(s socketio.Conn, reason string) {
		slog.Debug("ops dashboard disconnected", "conn_id", s.ID(), "reason", reason)
	})
	server.OnError("/ops", func(s socketio.Conn, err error) {
		slog.Warn("ops socket.io error", "error", err)
	})

	go server.Serve()

	return &Bridge{
		io:       server,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		wsConns:  make(map[*websocket.Conn]struct{}),
	}
}

// SocketIOHandler is the http.Handler to mount at "/socket.io/".
func (b *Bridge) SocketIOHandler() http.Handler { return b.io }

// ServeWebsocket upgrades the request and registers the connection for
// verdict broadcasts, on "/ws/verdicts".
func (b *Bridge) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.wsConns[conn] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer b.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Bridge) dropConn(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.wsConns, conn)
	b.mu.Unlock()
	conn.Close()
}

type reportEvent struct {
	Target   string  `json:"target"`
	Text     string  `json:"text"`
	HighRisk int     `json:"high_risk_count"`
}

// Broadcast fans a completed report out to every connected dashboard.
func (b *Bridge) Broadcast(target string, rep verdict.Report) {
	b.io.BroadcastToNamespace("/ops", "verdict_report", reportEvent{
		Target:   target,
		Text:     rep.Text,
		HighRisk: len(rep.HighRisk),
	})

	payload, err := json.Marshal(reportEvent{Target: target, Text: rep.Text, HighRisk: len(rep.HighRisk)})
	if err != nil {
		slog.Error("opsbridge: marshal report failed", "error", err)
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.wsConns))
	for c := range b.wsConns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.dropConn(c)
		}
	}
}

// Close stops the Socket.IO server and every open websocket.
func (b *Bridge) Close() error {
	b.mu.Lock()
	for c := range b.wsConns {
		c.Close()
	}
	b.wsConns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()
	return b.io.Close()
}
