package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/driftlab/tether/internal/arbiter"
)

// Sink receives inbound message batches read off channel connections.
type Sink interface {
	HandleInbound(ctx context.Context, msgs []arbiter.InboundMessage) error
}

// Handler upgrades adapter connections and pumps their frames into the sink.
type Handler struct {
	registry      *Registry
	sink          Sink
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket handler for channel connections.
func NewHandler(registry *Registry, sink Sink, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		registry:      registry,
		sink:          sink,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inboundFrame is one JSON frame from a chat-network adapter.
type inboundFrame struct {
	Type          string `json:"type"`
	CounterpartID string `json:"counterpart_id"`
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp,omitempty"` // unix seconds
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		http.Error(w, "channel query parameter required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "channel_id", channelID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "channel closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "channel_id", channelID)
		}
	}()

	h.registry.Register(channelID, ws)
	defer h.registry.Unregister(channelID, ws)

	h.readLoop(r.Context(), ws, channelID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, channelID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Channel closed by adapter", "channel_id", channelID)
			} else {
				slog.Warn("Channel read error", "error", err, "channel_id", channelID)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Discarding malformed frame", "channel_id", channelID, "error", err)
			continue
		}
		if frame.Type != "message" {
			continue
		}
		if frame.CounterpartID == "" || frame.Content == "" {
			slog.Warn("Discarding incomplete message frame", "channel_id", channelID)
			continue
		}

		var ts time.Time
		if frame.Timestamp > 0 {
			ts = time.Unix(frame.Timestamp, 0)
		}
		msg := arbiter.NewInboundMessage(frame.CounterpartID, channelID,
			frame.SenderID, frame.SenderName, frame.Content, ts)
		if err := h.sink.HandleInbound(ctx, []arbiter.InboundMessage{msg}); err != nil {
			slog.Error("Inbound handling failed", "channel_id", channelID,
				"counterpart_id", frame.CounterpartID, "error", err)
		}
	}
}
