// Package domain contains the core session model: the entity, its waiting
// sub-state, and its bounded narrative log. Pure state transitions, no I/O.
package domain

import (
	"strconv"
	"time"
)

// Status describes whether a session is idle or expecting a reaction.
type Status string

const (
	// StatusIdle indicates the bot is not waiting for anything.
	StatusIdle Status = "idle"
	// StatusWaiting indicates the bot expects a reaction within a bounded time.
	StatusWaiting Status = "waiting"
)

// DefaultLogCap bounds the narrative log when no cap is configured.
const DefaultLogCap = 50

// Session tracks conversational state for a single counterpart. All mutation
// goes through its methods; callers serialize access per counterpart via the
// store's per-key locks.
type Session struct {
	CounterpartID string
	ChannelID     string // may change across reconnects
	Status        Status
	Log           []LogEntry
	Waiting       WaitingState
	LastMood      string

	CreatedAt         time.Time
	LastActivityAt    time.Time
	LastProactiveAt   time.Time // zero until the first outreach attempt
	LastUserMessageAt time.Time // zero until the first inbound message

	ConsecutiveTimeouts int
	TotalInteractions   int

	logCap int
}

// New creates an idle session for a counterpart.
func New(counterpartID, channelID string, now time.Time, logCap int) *Session {
	if logCap <= 0 {
		logCap = DefaultLogCap
	}
	return &Session{
		CounterpartID:  counterpartID,
		ChannelID:      channelID,
		Status:         StatusIdle,
		CreatedAt:      now,
		LastActivityAt: now,
		logCap:         logCap,
	}
}

// SetLogCap adjusts the narrative log bound, trimming oldest entries if the
// log already exceeds it. Used after loading a persisted session.
func (s *Session) SetLogCap(cap int) {
	if cap <= 0 {
		cap = DefaultLogCap
	}
	s.logCap = cap
	if n := len(s.Log) - cap; n > 0 {
		s.Log = append(s.Log[:0], s.Log[n:]...)
	}
}

// LogCap returns the configured narrative log bound.
func (s *Session) LogCap() int {
	if s.logCap <= 0 {
		return DefaultLogCap
	}
	return s.logCap
}

func (s *Session) appendEntry(e LogEntry) {
	s.Log = append(s.Log, e)
	if n := len(s.Log) - s.LogCap(); n > 0 {
		// FIFO eviction: drop oldest, never newest.
		s.Log = append(s.Log[:0], s.Log[n:]...)
	}
}

// StartWaiting begins a waiting episode. A non-positive maxWait is untrusted
// input from the response generator and normalizes to EndWaiting.
func (s *Session) StartWaiting(expectedReaction string, maxWait time.Duration, now time.Time) {
	if maxWait <= 0 {
		s.EndWaiting(now)
		return
	}
	s.Status = StatusWaiting
	s.Waiting = WaitingState{
		ExpectedReaction: expectedReaction,
		MaxWait:          maxWait,
		StartedAt:        now,
	}
	s.LastActivityAt = now
}

// EndWaiting returns the session to idle and clears the waiting sub-state.
func (s *Session) EndWaiting(now time.Time) {
	s.Status = StatusIdle
	s.Waiting = WaitingState{}
	s.LastActivityAt = now
}

// RecordUserMessage appends an inbound message to the narrative log. When a
// waiting episode is active the entry is annotated with whether the reaction
// arrived in time; classification alone does not end the episode.
func (s *Session) RecordUserMessage(content, senderName, senderID string, ts, now time.Time) {
	entry := NewUserMessageEntry(UserMessageEvent{
		SenderName: senderName,
		SenderID:   senderID,
		Content:    content,
	}, ts)

	if s.Status == StatusWaiting && s.Waiting.Active() {
		elapsed := s.Waiting.Elapsed(now)
		reaction := ReactionInTime
		if elapsed > s.Waiting.MaxWait {
			reaction = ReactionLate
		}
		entry.SetMeta(MetaReaction, reaction)
		entry.SetMeta(MetaElapsedSeconds, strconv.Itoa(int(elapsed.Seconds())))
		entry.SetMeta(MetaMaxWaitSeconds, strconv.Itoa(int(s.Waiting.MaxWait.Seconds())))
	}

	s.appendEntry(entry)
	s.ConsecutiveTimeouts = 0
	s.LastUserMessageAt = ts
	s.LastActivityAt = now
}

// RecordBotPlanning appends a decision to the narrative log and counts the
// interaction.
func (s *Session) RecordBotPlanning(thought string, actions []Action, expectedReaction string, maxWaitSeconds int, mood string, ts time.Time) {
	s.appendEntry(NewBotPlanningEntry(BotPlanningEvent{
		Thought:          thought,
		Actions:          actions,
		ExpectedReaction: expectedReaction,
		MaxWaitSeconds:   maxWaitSeconds,
	}, ts))
	if mood != "" {
		s.LastMood = mood
	}
	s.TotalInteractions++
	s.LastActivityAt = ts
}

// RecordWaitingUpdate appends a continuous-thought narration stamped with the
// current elapsed time of the waiting episode.
func (s *Session) RecordWaitingUpdate(thought, mood string, ts time.Time) {
	s.appendEntry(NewWaitingUpdateEntry(WaitingUpdateEvent{
		ElapsedSeconds: int(s.Waiting.Elapsed(ts).Seconds()),
		Thought:        thought,
		Mood:           mood,
	}, ts))
	if mood != "" {
		s.LastMood = mood
	}
}

// RecordProactiveTrigger appends an outreach attempt to the narrative log and
// stamps LastProactiveAt, whether or not the attempt produced visible actions.
func (s *Session) RecordProactiveTrigger(silence time.Duration, ts time.Time) {
	s.appendEntry(NewProactiveTriggerEntry(ProactiveTriggerEvent{
		SilenceSeconds: int(silence.Seconds()),
	}, ts))
	s.LastProactiveAt = ts
}

// Silence returns how long the counterpart has been inactive.
func (s *Session) Silence(now time.Time) time.Duration {
	d := now.Sub(s.LastActivityAt)
	if d < 0 {
		return 0
	}
	return d
}

// RecentLog returns up to n newest log entries, oldest first.
func (s *Session) RecentLog(n int) []LogEntry {
	if n >= len(s.Log) {
		return s.Log
	}
	return s.Log[len(s.Log)-n:]
}
