package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftlab/tether/internal/domain"
)

// record is the canonical persisted representation of a session.
type record struct {
	Key     string            `json:"key"`
	Channel string            `json:"channel"`
	Status  string            `json:"status"`
	Log     []domain.LogEntry `json:"narrative_log"`
	Waiting waitingRecord     `json:"waiting"`

	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	LastProactiveAt   *time.Time `json:"last_proactive_at,omitempty"`
	LastUserMessageAt *time.Time `json:"last_user_message_at,omitempty"`

	LastMood            string `json:"last_mood,omitempty"`
	ConsecutiveTimeouts int    `json:"consecutive_timeout_count"`
	TotalInteractions   int    `json:"total_interactions"`
}

type waitingRecord struct {
	ExpectedReaction string     `json:"expected_reaction,omitempty"`
	MaxWaitSeconds   int        `json:"max_wait_seconds"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	LastThinkingAt   *time.Time `json:"last_thinking_at,omitempty"`
	ThinkingCount    int        `json:"thinking_count"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t
	return &u
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// EncodeSession serializes a session to its canonical JSON record.
func EncodeSession(s *domain.Session) ([]byte, error) {
	rec := record{
		Key:     s.CounterpartID,
		Channel: s.ChannelID,
		Status:  string(s.Status),
		Log:     s.Log,
		Waiting: waitingRecord{
			ExpectedReaction: s.Waiting.ExpectedReaction,
			MaxWaitSeconds:   int(s.Waiting.MaxWait.Seconds()),
			StartedAt:        optionalTime(s.Waiting.StartedAt),
			LastThinkingAt:   optionalTime(s.Waiting.LastThinkingAt),
			ThinkingCount:    s.Waiting.ThinkingCount,
		},
		CreatedAt:           s.CreatedAt,
		LastActivityAt:      s.LastActivityAt,
		LastProactiveAt:     optionalTime(s.LastProactiveAt),
		LastUserMessageAt:   optionalTime(s.LastUserMessageAt),
		LastMood:            s.LastMood,
		ConsecutiveTimeouts: s.ConsecutiveTimeouts,
		TotalInteractions:   s.TotalInteractions,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.CounterpartID, err)
	}
	return data, nil
}

// DecodeSession deserializes a canonical JSON record into a session with the
// given narrative log cap applied.
func DecodeSession(data []byte, logCap int) (*domain.Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	if rec.Key == "" {
		return nil, fmt.Errorf("decode session record: missing key")
	}

	s := domain.New(rec.Key, rec.Channel, rec.CreatedAt, logCap)
	s.Status = domain.Status(rec.Status)
	// A damaged record can carry entries whose variant does not match their
	// type; keep the readable entries instead of failing the whole session.
	log := make([]domain.LogEntry, 0, len(rec.Log))
	for _, e := range rec.Log {
		if e.Valid() {
			log = append(log, e)
		}
	}
	s.Log = log
	s.Waiting = domain.WaitingState{
		ExpectedReaction: rec.Waiting.ExpectedReaction,
		MaxWait:          time.Duration(rec.Waiting.MaxWaitSeconds) * time.Second,
		StartedAt:        timeOrZero(rec.Waiting.StartedAt),
		LastThinkingAt:   timeOrZero(rec.Waiting.LastThinkingAt),
		ThinkingCount:    rec.Waiting.ThinkingCount,
	}
	s.LastActivityAt = rec.LastActivityAt
	s.LastProactiveAt = timeOrZero(rec.LastProactiveAt)
	s.LastUserMessageAt = timeOrZero(rec.LastUserMessageAt)
	s.LastMood = rec.LastMood
	s.ConsecutiveTimeouts = rec.ConsecutiveTimeouts
	s.TotalInteractions = rec.TotalInteractions

	// Persisted state is untrusted after a crash or manual edit; re-assert
	// the status/waiting invariant instead of failing the load.
	if s.Waiting.Active() {
		s.Status = domain.StatusWaiting
	} else {
		s.Status = domain.StatusIdle
		s.Waiting = domain.WaitingState{}
	}
	s.SetLogCap(logCap)
	return s, nil
}
