package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"termbridge/internal/config"
	"termbridge/internal/metrics"
)

// Store holds the server's live sessions and expires idle ones in the
// background.
type Store struct {
	cfg      *config.Config
	launcher Launcher

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates a store and starts its idle sweeper.
func NewStore(cfg *config.Config, launcher Launcher) *Store {
	st := &Store{
		cfg:      cfg,
		launcher: launcher,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	st.wg.Add(1)
	go st.sweep()
	return st
}

// Create registers a new session. The session's bridge is not created
// here; it comes up on the first run or attach.
func (st *Store) Create() (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.sessions) >= st.cfg.Session.MaxSessions {
		metrics.SessionOperationsTotal.WithLabelValues("create", "rejected").Inc()
		return nil, ErrTooManySessions
	}
	s := newSession(uuid.NewString(), st.cfg, st.launcher)
	st.sessions[s.ID] = s
	metrics.SessionsActive.Inc()
	metrics.SessionOperationsTotal.WithLabelValues("create", "ok").Inc()
	log.Info().
		Str("session_id", s.ID).
		Int("total", len(st.sessions)).
		Msg("Session created")
	return s, nil
}

// Get looks a session up by ID.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session and tears it down.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return ErrNotFound
	}
	delete(st.sessions, id)
	st.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.SessionOperationsTotal.WithLabelValues("delete", "ok").Inc()
	log.Info().Str("session_id", id).Msg("Session deleted")
	return s.Close()
}

// List snapshots every session, oldest first.
func (st *Store) List() []Info {
	st.mu.RLock()
	infos := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		infos = append(infos, s.Info())
	}
	st.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len is the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) sweep() {
	defer st.wg.Done()
	ticker := time.NewTicker(st.cfg.Session.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.deleteExpired()
		}
	}
}

func (st *Store) deleteExpired() {
	cutoff := time.Now().Add(-st.cfg.Session.IdleTimeout)

	st.mu.RLock()
	var expired []string
	for id, s := range st.sessions {
		// A session pumping a terminal or running a program is not
		// idle, however long ago it was last touched.
		if s.Running() || s.Attached() {
			continue
		}
		if s.LastActive().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range expired {
		log.Info().Str("session_id", id).Msg("Idle session expired")
		if err := st.Delete(id); err != nil && err != ErrNotFound {
			log.Warn().Err(err).Str("session_id", id).Msg("Expired session teardown failed")
		}
	}
}

// Close stops the sweeper and tears down every session.
func (st *Store) Close() error {
	st.stopOnce.Do(func() { close(st.stop) })
	st.wg.Wait()

	st.mu.Lock()
	remaining := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		remaining = append(remaining, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	var firstErr error
	for _, s := range remaining {
		metrics.SessionsActive.Dec()
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
