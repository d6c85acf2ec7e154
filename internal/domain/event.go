package domain

import "time"

// EventType discriminates narrative log entry variants.
type EventType string

const (
	// EventUserMessage records an inbound message from the counterpart.
	EventUserMessage EventType = "user_message"
	// EventBotPlanning records a decision produced by the response generator.
	EventBotPlanning EventType = "bot_planning"
	// EventWaitingUpdate records a continuous-thought update during waiting.
	EventWaitingUpdate EventType = "waiting_update"
	// EventProactiveTrigger records a proactive outreach attempt.
	EventProactiveTrigger EventType = "proactive_trigger"
)

// Metadata keys used to annotate user messages that arrive during a waiting
// episode.
const (
	MetaReaction       = "reaction"
	MetaElapsedSeconds = "elapsed_seconds"
	MetaMaxWaitSeconds = "max_wait_seconds"

	ReactionInTime = "in_time"
	ReactionLate   = "late"
)

// Action is a single visible effect requested by a decision, performed by the
// action dispatcher.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// UserMessageEvent carries an inbound message from the counterpart.
type UserMessageEvent struct {
	SenderName string `json:"sender_name"`
	SenderID   string `json:"sender_id"`
	Content    string `json:"content"`
}

// BotPlanningEvent carries a decision returned by the response generator.
type BotPlanningEvent struct {
	Thought          string   `json:"thought"`
	Actions          []Action `json:"actions,omitempty"`
	ExpectedReaction string   `json:"expected_reaction,omitempty"`
	MaxWaitSeconds   int      `json:"max_wait_seconds"`
}

// WaitingUpdateEvent carries a continuous-thought narration.
type WaitingUpdateEvent struct {
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Thought        string `json:"thought"`
	Mood           string `json:"mood,omitempty"`
}

// ProactiveTriggerEvent carries the silence that triggered an outreach.
type ProactiveTriggerEvent struct {
	SilenceSeconds int `json:"silence_seconds"`
}

// LogEntry is one entry of a session's narrative log. Exactly one variant
// pointer is non-nil, matching Type; use the New*Entry constructors.
type LogEntry struct {
	Type      EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	UserMessage      *UserMessageEvent      `json:"user_message,omitempty"`
	BotPlanning      *BotPlanningEvent      `json:"bot_planning,omitempty"`
	WaitingUpdate    *WaitingUpdateEvent    `json:"waiting_update,omitempty"`
	ProactiveTrigger *ProactiveTriggerEvent `json:"proactive_trigger,omitempty"`
}

// NewUserMessageEntry builds a USER_MESSAGE log entry.
func NewUserMessageEntry(ev UserMessageEvent, ts time.Time) LogEntry {
	return LogEntry{Type: EventUserMessage, Timestamp: ts, UserMessage: &ev}
}

// NewBotPlanningEntry builds a BOT_PLANNING log entry.
func NewBotPlanningEntry(ev BotPlanningEvent, ts time.Time) LogEntry {
	return LogEntry{Type: EventBotPlanning, Timestamp: ts, BotPlanning: &ev}
}

// NewWaitingUpdateEntry builds a WAITING_UPDATE log entry.
func NewWaitingUpdateEntry(ev WaitingUpdateEvent, ts time.Time) LogEntry {
	return LogEntry{Type: EventWaitingUpdate, Timestamp: ts, WaitingUpdate: &ev}
}

// NewProactiveTriggerEntry builds a PROACTIVE_TRIGGER log entry.
func NewProactiveTriggerEntry(ev ProactiveTriggerEvent, ts time.Time) LogEntry {
	return LogEntry{Type: EventProactiveTrigger, Timestamp: ts, ProactiveTrigger: &ev}
}

// Valid reports whether exactly the variant named by Type is populated.
// Entries built through the constructors always are; entries decoded from
// durable records may not be.
func (e LogEntry) Valid() bool {
	switch e.Type {
	case EventUserMessage:
		return e.UserMessage != nil
	case EventBotPlanning:
		return e.BotPlanning != nil
	case EventWaitingUpdate:
		return e.WaitingUpdate != nil
	case EventProactiveTrigger:
		return e.ProactiveTrigger != nil
	default:
		return false
	}
}

// SetMeta records an auxiliary fact on the entry.
func (e *LogEntry) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}
