package gateway

import (
	"context"
	"fmt"

	"github.com/driftlab/tether/internal/dispatch"
	"github.com/driftlab/tether/internal/domain"
)

// outboundFrame is the JSON frame written to a channel connection.
type outboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Dispatcher delivers actions over the channel's WebSocket connection.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Apply sends the action's frame to the channel connection.
func (g *Dispatcher) Apply(ctx context.Context, channelID string, action domain.Action) error {
	switch action.Type {
	case dispatch.ActionSendMessage:
		content, _ := action.Params["content"].(string)
		if content == "" {
			return fmt.Errorf("send_message action without content")
		}
		return g.registry.Send(ctx, channelID, outboundFrame{Type: "message", Content: content})
	case dispatch.ActionTyping:
		return g.registry.Send(ctx, channelID, outboundFrame{Type: "typing"})
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)
