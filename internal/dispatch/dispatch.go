// Package dispatch performs the visible effects requested by decisions.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/driftlab/tether/internal/domain"
)

// Dispatcher applies a single action for a counterpart's channel. Errors are
// caught by callers and never treated as fatal.
type Dispatcher interface {
	Apply(ctx context.Context, channelID string, action domain.Action) error
}

// ApplyAll applies every action in order. A failure in one action does not
// prevent the remaining actions from being attempted. Returns the number of
// actions that succeeded.
func ApplyAll(ctx context.Context, d Dispatcher, channelID string, actions []domain.Action) int {
	applied := 0
	for _, action := range actions {
		if err := d.Apply(ctx, channelID, action); err != nil {
			slog.Warn("Action dispatch failed", "channel_id", channelID, "action_type", action.Type, "error", err)
			continue
		}
		applied++
	}
	return applied
}

// Action types understood by the gateway dispatcher.
const (
	ActionSendMessage = "send_message"
	ActionTyping      = "typing"
)
