package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftlab/tether/internal/arbiter"
	"github.com/driftlab/tether/internal/domain"
	"github.com/driftlab/tether/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes the session store and the message injection
// endpoint used by protocol adapters that speak HTTP instead of the
// websocket gateway.
type SessionHandler struct {
	sessions *store.Manager
	arbiter  *arbiter.Arbiter
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *store.Manager, a *arbiter.Arbiter) *SessionHandler {
	return &SessionHandler{sessions: sessions, arbiter: a}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.PostMessage)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/health", h.Health)
		r.Get("/health/ready", h.Ready)
	})
	r.Get("/health", h.Health)
}

type inboundPayload struct {
	CounterpartID string `json:"counterpart_id"`
	ChannelID     string `json:"channel_id"`
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"` // unix seconds, 0 = now
}

// PostMessage feeds one inbound message through the decision path.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var p inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if p.CounterpartID == "" || p.Content == "" {
		Error(w, http.StatusBadRequest, "counterpart_id and content are required")
		return
	}
	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.Unix(p.Timestamp, 0)
	}

	msg := arbiter.NewInboundMessage(p.CounterpartID, p.ChannelID, p.SenderID, p.SenderName, p.Content, ts)
	if err := h.arbiter.HandleInbound(r.Context(), []arbiter.InboundMessage{msg}); err != nil {
		slog.Error("Failed to handle injected message", "counterpart_id", p.CounterpartID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message_id": msg.ID})
}

type sessionSummary struct {
	CounterpartID       string `json:"counterpart_id"`
	ChannelID           string `json:"channel_id"`
	Status              string `json:"status"`
	Mood                string `json:"mood,omitempty"`
	LastActivityAt      string `json:"last_activity_at"`
	TotalInteractions   int    `json:"total_interactions"`
	ConsecutiveTimeouts int    `json:"consecutive_timeouts"`
	LogSize             int    `json:"log_size"`
}

func summarize(s *domain.Session) sessionSummary {
	return sessionSummary{
		CounterpartID:       s.CounterpartID,
		ChannelID:           s.ChannelID,
		Status:              string(s.Status),
		Mood:                s.LastMood,
		LastActivityAt:      s.LastActivityAt.UTC().Format(time.RFC3339),
		TotalInteractions:   s.TotalInteractions,
		ConsecutiveTimeouts: s.ConsecutiveTimeouts,
		LogSize:             len(s.Log),
	}
}

// ListSessions returns a summary of every cached session.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := []sessionSummary{}
	for _, key := range h.sessions.ListAll() {
		sess, release, ok := h.sessions.Acquire(key)
		if !ok {
			continue
		}
		summaries = append(summaries, summarize(sess))
		release()
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(summaries),
		"sessions": summaries,
	})
}

// GetSession returns one session with its recent narrative log.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, release, ok := h.sessions.Acquire(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	defer release()

	JSON(w, http.StatusOK, map[string]interface{}{
		"session": summarize(sess),
		"waiting": map[string]interface{}{
			"active":            sess.Waiting.Active(),
			"expected_reaction": sess.Waiting.ExpectedReaction,
			"elapsed_seconds":   int(sess.Waiting.Elapsed(time.Now()).Seconds()),
			"max_wait_seconds":  int(sess.Waiting.MaxWait.Seconds()),
		},
		"log": sess.RecentLog(20),
	})
}

// Health is the liveness probe.
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

// Ready reports whether the durable backend is reachable.
func (h *SessionHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Ping(r.Context()); err != nil {
		slog.Error("Readiness check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
