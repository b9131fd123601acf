package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/skobkin/gfxpower/internal/daemon"
	"github.com/skobkin/gfxpower/internal/events"
)

type helloMessage struct {
	Type  string          `json:"type"`
	State daemon.Snapshot `json:"state"`
}

type eventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

// handleWS streams daemon events. The stream is write-only; any client data
// message closes it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if s.deps.Events == nil || s.deps.State == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)
	defer closeWebsocket(logger, conn)

	// Subscribe before the hello so nothing published in between is lost.
	ch, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())

	if err := s.writeMessage(ctx, conn, helloMessage{Type: "hello", State: s.deps.State.Snapshot()}); err != nil {
		logger.Warn("websocket hello failed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeMessage(ctx, conn, eventMessage{Type: "event", Event: ev}); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					logger.Warn("websocket write failed", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx := ctx
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}
	s.wsSent.Add(1)
	return nil
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		logger.Debug("websocket close failed", "err", err)
	}
}
