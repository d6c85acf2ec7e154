// Package gateway accepts chat-network adapter connections over WebSocket
// and delivers outbound frames to them. One connection per channel.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the active WebSocket connection per channel.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*websocket.Conn)}
}

// Register adds a connection for a channel, replacing (and closing) any
// previous one.
func (r *Registry) Register(channelID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[channelID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "channel replaced")
	}
	r.active[channelID] = conn
	slog.Info("Channel registered", "channel_id", channelID)
}

// Unregister removes a connection for a channel if it is still the current one.
func (r *Registry) Unregister(channelID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[channelID]; ok && current == conn {
		delete(r.active, channelID)
		slog.Info("Channel unregistered", "channel_id", channelID)
	}
}

// Get returns the active connection for a channel, or nil.
func (r *Registry) Get(channelID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[channelID]
}

// Send writes a JSON frame to the channel's connection.
func (r *Registry) Send(ctx context.Context, channelID string, v any) error {
	conn := r.Get(channelID)
	if conn == nil {
		return fmt.Errorf("channel %s not connected", channelID)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame for channel %s: %w", channelID, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame to channel %s: %w", channelID, err)
	}
	return nil
}

// CloseAll terminates every active connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.active {
		_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
		delete(r.active, id)
	}
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
