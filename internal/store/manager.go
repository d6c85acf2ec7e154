package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlab/tether/internal/domain"
)

// Manager is the single source of truth for live sessions. It keeps an
// in-memory cache keyed by counterpart ID, one mutex per key so callers for
// the same counterpart serialize while different counterparts proceed
// independently, and persists through a Backend.
type Manager struct {
	backend Backend
	logCap  int
	now     func() time.Time

	mu    sync.Mutex // guards cache and locks maps, never held during I/O
	cache map[string]*domain.Session
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager over the given backend.
func NewManager(backend Backend, logCap int) *Manager {
	return &Manager{
		backend: backend,
		logCap:  logCap,
		now:     time.Now,
		cache:   make(map[string]*domain.Session),
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetNow overrides the clock. Test hook.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// GetOrCreate returns the session for key with its per-key lock held. The
// caller must invoke release when its read-modify-write sequence is done.
// A cached session wins; otherwise the durable record is loaded; otherwise a
// fresh session is created. Never returns two different session objects for
// the same key while one is live in cache.
func (m *Manager) GetOrCreate(ctx context.Context, key, channel string) (*domain.Session, func(), error) {
	lock := m.lockFor(key)
	lock.Lock()
	release := lock.Unlock

	m.mu.Lock()
	s, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		if channel != "" {
			s.ChannelID = channel
		}
		return s, release, nil
	}

	s = m.load(ctx, key)
	if s == nil {
		s = domain.New(key, channel, m.now(), m.logCap)
	} else if channel != "" {
		s.ChannelID = channel
	}

	m.mu.Lock()
	m.cache[key] = s
	m.mu.Unlock()
	return s, release, nil
}

// load reads the durable record for key. Malformed or missing records are
// treated as "no prior session", not a fatal error.
func (m *Manager) load(ctx context.Context, key string) *domain.Session {
	data, err := m.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Failed to load session record, starting fresh", "counterpart_id", key, "error", err)
		}
		return nil
	}
	s, err := DecodeSession(data, m.logCap)
	if err != nil {
		slog.Warn("Corrupt session record, starting fresh", "counterpart_id", key, "error", err)
		return nil
	}
	return s
}

// Acquire returns the cached session for key with its lock held, or false if
// the key is not in cache. Used by the schedulers, which only ever advance
// sessions that are already live.
func (m *Manager) Acquire(key string) (*domain.Session, func(), bool) {
	lock := m.lockFor(key)
	lock.Lock()

	m.mu.Lock()
	s, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		lock.Unlock()
		return nil, nil, false
	}
	return s, lock.Unlock, true
}

// Save persists the cached session for key. The caller must hold the per-key
// lock. On write failure the in-memory state remains authoritative.
func (m *Manager) Save(ctx context.Context, key string) error {
	m.mu.Lock()
	s, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("save session %s: not in cache", key)
	}
	data, err := EncodeSession(s)
	if err != nil {
		return err
	}
	if err := m.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("persist session %s: %w", key, err)
	}
	return nil
}

// snapshotKeys returns keys of cached sessions matching filter. Sessions
// whose lock is currently held are being handled by someone else and are
// skipped; the next scan cycle will see them again.
func (m *Manager) snapshotKeys(filter func(*domain.Session) bool) []string {
	m.mu.Lock()
	type pair struct {
		key  string
		sess *domain.Session
		lock *sync.Mutex
	}
	pairs := make([]pair, 0, len(m.cache))
	for key, s := range m.cache {
		pairs = append(pairs, pair{key: key, sess: s, lock: m.locks[key]})
	}
	m.mu.Unlock()

	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.lock == nil || !p.lock.TryLock() {
			continue
		}
		if filter == nil || filter(p.sess) {
			keys = append(keys, p.key)
		}
		p.lock.Unlock()
	}
	return keys
}

// ListWaiting returns keys of cached sessions currently in a waiting episode.
func (m *Manager) ListWaiting() []string {
	return m.snapshotKeys(func(s *domain.Session) bool {
		return s.Status == domain.StatusWaiting
	})
}

// ListAll returns keys of all cached sessions.
func (m *Manager) ListAll() []string {
	return m.snapshotKeys(nil)
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Evict drops cached sessions whose last activity is older than retention.
// Durable records are kept and reload on the next inbound message.
func (m *Manager) Evict(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := m.now().Add(-retention)
	evicted := 0
	for _, key := range m.ListAll() {
		s, release, ok := m.Acquire(key)
		if !ok {
			continue
		}
		if s.LastActivityAt.Before(cutoff) {
			// The lock entry stays: a concurrent GetOrCreate may already
			// hold a reference to it, and dropping it would allow two
			// mutexes for the same key.
			m.mu.Lock()
			delete(m.cache, key)
			m.mu.Unlock()
			evicted++
		}
		release()
	}
	return evicted
}

// FlushAll persists every cached session. Used on shutdown as a final
// sweep; individual save failures are logged and do not stop the sweep.
func (m *Manager) FlushAll(ctx context.Context) {
	for _, key := range m.ListAll() {
		_, release, ok := m.Acquire(key)
		if !ok {
			continue
		}
		if err := m.Save(ctx, key); err != nil {
			slog.Error("Failed to flush session", "counterpart_id", key, "error", err)
		}
		release()
	}
}

// Ping reports whether the durable backend is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}
