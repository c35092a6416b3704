// Package wsserver implements the inbound side of the binary/text framing
// protocol: it accepts a client's WebSocket connection, hands it to the
// Connection Manager (C10) to get back a wired pipeline.Orchestrator, and
// pumps frames between the socket and the orchestrator until the client
// disconnects.
//
// The teacher's provider packages only ever dial outbound WebSocket
// connections (to STT/TTS backends); there is no inbound accept-loop
// precedent in that code, so this package follows coder/websocket's
// documented server-side usage directly.
package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/wspotter/felix/internal/connmanager"
	"github.com/wspotter/felix/internal/pipeline"
)

// Path is where the Server should be mounted on the process-wide mux.
const Path = "/ws"

// sink adapts a *websocket.Conn to pipeline.Sink. coder/websocket does not
// allow concurrent writers on the same connection, but the orchestrator's
// turn runner and its barge-in handling both send through the same Sink
// from different goroutines, so writes are serialized here.
type sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sink) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsserver: marshal frame: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *sink) SendAudio(pcm []byte) error {
	data, err := pipeline.EncodeAudioFrame(pcm)
	if err != nil {
		return fmt.Errorf("wsserver: encode audio frame: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// Server accepts inbound client connections and wires them to the
// Connection Manager.
type Server struct {
	manager *connmanager.Manager
}

// New constructs a Server backed by manager.
func New(manager *connmanager.Manager) *Server {
	return &Server{manager: manager}
}

// ServeHTTP upgrades the request to a WebSocket connection, registers it
// with the Connection Manager, and runs the read loop until the client
// disconnects or the request context is cancelled.
//
// Clients may present a stable id via the client_id query parameter to
// opt into session restoration (§4.10); absent that, a fresh id is
// assigned per connection and nothing is restored, matching the source
// server's per-connection UUID assignment.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()[:8]
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("wsserver: accept failed", "client_id", clientID, "err", err)
		return
	}

	sk := &sink{conn: conn}
	orch, err := s.manager.Connect(clientID, sk)
	if err != nil {
		slog.Warn("wsserver: connect rejected", "client_id", clientID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.manager.Disconnect(clientID)

	ctx := r.Context()
	slog.Info("wsserver: client connected", "client_id", clientID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				slog.Info("wsserver: client closed connection", "client_id", clientID)
			} else if ctx.Err() != nil {
				slog.Info("wsserver: connection context cancelled", "client_id", clientID)
			} else {
				slog.Warn("wsserver: read failed, closing connection", "client_id", clientID, "err", err)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if err := orch.HandleBinaryFrame(ctx, data); err != nil {
				slog.Warn("wsserver: handle binary frame", "client_id", clientID, "err", err)
			}
		case websocket.MessageText:
			if err := orch.HandleControlMessage(ctx, data); err != nil {
				slog.Warn("wsserver: handle control message", "client_id", clientID, "err", err)
			}
		}
	}
}
