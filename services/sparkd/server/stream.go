package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"monspark/services/sparkd/ledger"
)

const wsWriteTimeout = 5 * time.Second

// handleStream upgrades to a websocket and pushes activity entries as they are
// recorded. The current feed is sent first, oldest entry first. An optional
// address query parameter restricts the stream to one user.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Activity stream unavailable"})
		return
	}
	filter := ledger.NormalizeAddress(r.URL.Query().Get("address"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cfg.AllowedOrigin)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Client frames are ignored; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamActivities(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("activity stream failed", "component", "server", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamActivities(ctx context.Context, conn *websocket.Conn, filter string) error {
	updates, cancel, backlog, err := s.stream.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		s.metrics.SetSubscribers(s.stream.Subscribers())
	}()
	s.metrics.SetSubscribers(s.stream.Subscribers())

	for i := len(backlog) - 1; i >= 0; i-- {
		if !matches(backlog[i], filter) {
			continue
		}
		if err := writeActivity(ctx, conn, backlog[i]); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if !matches(entry, filter) {
				continue
			}
			if err := writeActivity(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func matches(entry ledger.Activity, filter string) bool {
	return filter == "" || ledger.NormalizeAddress(entry.UserAddress) == filter
}

func writeActivity(ctx context.Context, conn *websocket.Conn, entry ledger.Activity) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
