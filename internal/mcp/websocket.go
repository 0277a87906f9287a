package mcp

import (
	"io"
	"net/http"

	"nhooyr.io/websocket"
)

// WebSocketHandler upgrades the connection and serves one JSON-RPC message
// per text frame.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "unexpected close")

		s.log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

		ctx := r.Context()
		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}
				s.log.Debug().Err(err).Msg("WebSocket read failed")
				return
			}

			if msgType != websocket.MessageText {
				continue
			}

			resp := s.Handle(ctx, data)
			if resp == nil {
				continue
			}

			if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

// HTTPHandler serves one JSON-RPC message per POST body.
func (s *Server) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLineSize))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		resp := s.Handle(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write(resp)
	}
}
