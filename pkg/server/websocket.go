package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/mediator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser agents are not a supported client; access control happens
	// in the JWT middleware in front of the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket serves the JSON-RPC protocol over a WebSocket at
// /mcp/ws. Each inbound message is dispatched in its own goroutine so a
// long-running tool call does not block other calls on the same
// connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := userContextFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("WebSocket agent connected", "remote", conn.RemoteAddr())

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	ctx := r.Context()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("WebSocket read failed", "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		wg.Add(1)
		go func(payload []byte) {
			defer wg.Done()
			s.serveWSMessage(ctx, conn, &writeMu, payload, user)
		}(message)
	}

	wg.Wait()
	slog.Info("WebSocket agent disconnected", "remote", conn.RemoteAddr())
}

func (s *Server) serveWSMessage(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, payload []byte, user mediator.UserContext) {
	resp := s.dispatch(ctx, payload, user)

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to serialize WebSocket response", "error", err)
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("WebSocket write failed", "error", err)
	}
}
