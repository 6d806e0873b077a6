// Package session manages playground sessions: one shared memory bridge and
// one worker process per session, created lazily, pooled behind a TTL store.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"termbridge/internal/config"
	"termbridge/internal/metrics"
	"termbridge/internal/termio"
)

// State is the session lifecycle. The bridge behind a session does not
// exist until first use: creating a session is cheap and allocates nothing
// shared.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker is the host's handle on a launched worker.
type Worker interface {
	// Run submits one program and blocks until the worker reports the
	// run finished. The terminal traffic flows over the bridge
	// meanwhile; only control crosses this interface.
	Run(ctx context.Context, source string) (Reply, error)

	// Close terminates the worker.
	Close() error
}

// Launcher starts the worker side of a freshly created segment. The
// production launcher spawns this binary's worker subcommand; tests run a
// worker in-process over the same mapping.
type Launcher interface {
	Launch(ctx context.Context, seg *termio.Segment) (Worker, error)
}

// Session is one playground: an editor's identity on the server, plus,
// once something needs the terminal, a segment, a host channel, and a
// worker on the other side.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg      *config.Config
	launcher Launcher

	state atomic.Int32

	mu      sync.Mutex // guards init/teardown and the fields below
	initErr error
	seg     *termio.Segment
	ch      *termio.Channel
	worker  Worker

	runMu   sync.Mutex // held for the duration of one program run
	running atomic.Bool

	attached   atomic.Bool
	lastActive atomic.Int64
}

func newSession(id string, cfg *config.Config, launcher Launcher) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		launcher:  launcher,
	}
	s.Touch()
	return s
}

// State reads the lifecycle state without blocking on an in-flight init.
func (s *Session) State() State { return State(s.state.Load()) }

// Touch refreshes the idle clock.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive is when the session was last touched.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Start brings the bridge up on first use: create the segment, launch the
// worker, wait for its handshake. Concurrent callers collapse onto a
// single attempt under the session mutex, and a failed attempt is cached
// and re-raised: a bridge that could not come up once does not silently
// retry on every keystroke.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateReady:
		return nil
	case StateFailed:
		return s.initErr
	case StateClosed:
		return ErrClosed
	}

	s.state.Store(int32(StateInitializing))
	if err := s.initLocked(ctx); err != nil {
		s.initErr = fmt.Errorf("bridge init: %w", err)
		s.state.Store(int32(StateFailed))
		metrics.SessionOperationsTotal.WithLabelValues("start", "error").Inc()
		log.Error().Err(err).Str("session_id", s.ID).Msg("Bridge initialization failed")
		return s.initErr
	}
	s.state.Store(int32(StateReady))
	metrics.SessionOperationsTotal.WithLabelValues("start", "ok").Inc()
	return nil
}

func (s *Session) initLocked(ctx context.Context) error {
	started := time.Now()

	dir := s.cfg.Bridge.SegmentDir
	if dir == "" {
		dir = termio.DefaultSegmentDir()
	}
	path := filepath.Join(dir, "termbridge-"+s.ID+".seg")

	seg, err := termio.CreateSegment(path, s.cfg.Bridge.OutputRingSize, s.cfg.Bridge.InputRingSize)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	worker, err := s.launcher.Launch(ctx, seg)
	if err != nil {
		seg.Close()
		seg.Unlink()
		return fmt.Errorf("launch worker: %w", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.Session.StartTimeout)
	defer cancel()
	if err := seg.WaitForWorker(hsCtx); err != nil {
		worker.Close()
		seg.Close()
		seg.Unlink()
		return fmt.Errorf("worker handshake: %w", err)
	}

	s.seg = seg
	s.worker = worker
	s.ch = termio.NewChannel(seg, termio.RoleHost,
		termio.WithPollInterval(s.cfg.Bridge.PollInterval))

	metrics.WorkerStartDuration.Observe(time.Since(started).Seconds())
	log.Info().
		Str("session_id", s.ID).
		Str("segment", path).
		Uint32("worker_pid", seg.WorkerPID()).
		Dur("took", time.Since(started)).
		Msg("Bridge ready")
	return nil
}

func (s *Session) channel() *termio.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Run executes source on the session's worker and blocks until the program
// finishes, fails, is cancelled, or times out. The bridge comes up lazily
// on the first Run. One run at a time: a second concurrent Run is refused,
// not queued.
func (s *Session) Run(ctx context.Context, source string) (Reply, error) {
	if err := s.Start(ctx); err != nil {
		return Reply{}, err
	}
	if !s.runMu.TryLock() {
		return Reply{}, ErrRunActive
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	worker := s.worker
	ch := s.ch
	s.mu.Unlock()
	if worker == nil || ch == nil {
		return Reply{}, ErrClosed
	}

	s.Touch()
	s.running.Store(true)
	defer s.running.Store(false)

	// Each run starts from clean rings: leftover output, queued keys,
	// and the previous run's completion state are all discarded.
	ch.Reset()

	started := time.Now()
	reply, err := worker.Run(ctx, source)
	s.Touch()
	if err != nil {
		metrics.RunsTotal.WithLabelValues(StatusError).Inc()
		return Reply{}, fmt.Errorf("worker: %w", err)
	}
	metrics.RunsTotal.WithLabelValues(reply.Status).Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	if stats := ch.Stats(); stats.DroppedOutput > 0 {
		metrics.OutputDroppedBytesTotal.Add(float64(stats.DroppedOutput))
		log.Warn().
			Str("session_id", s.ID).
			Uint64("dropped_bytes", stats.DroppedOutput).
			Msg("Output overflowed the ring during run")
	}
	log.Debug().
		Str("session_id", s.ID).
		Str("status", reply.Status).
		Int64("duration_ms", reply.DurationMs).
		Msg("Run finished")
	return reply, nil
}

// Running reports whether a program run is in flight.
func (s *Session) Running() bool { return s.running.Load() }

// Cancel asks the running program to stop. A no-op before the bridge
// exists.
func (s *Session) Cancel() {
	if ch := s.channel(); ch != nil {
		ch.Cancel()
		metrics.CancellationsTotal.Inc()
		s.Touch()
		log.Debug().Str("session_id", s.ID).Msg("Cancellation requested")
	}
}

// Reset clears the bridge for a fresh run. Refused while a run is active.
func (s *Session) Reset() error {
	if !s.runMu.TryLock() {
		return ErrRunActive
	}
	defer s.runMu.Unlock()
	if ch := s.channel(); ch != nil {
		ch.Reset()
	}
	s.Touch()
	return nil
}

// Attach claims the session's single terminal seat, bringing the bridge up
// if this is its first use, and returns the host channel for pumping. The
// output ring has exactly one consumer seat; a second attach is refused
// until Detach.
func (s *Session) Attach(ctx context.Context) (*termio.Channel, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	if !s.attached.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAttached
	}
	s.Touch()
	metrics.TerminalsAttached.Inc()
	return s.channel(), nil
}

// Detach releases the terminal seat.
func (s *Session) Detach() {
	if s.attached.CompareAndSwap(true, false) {
		metrics.TerminalsAttached.Dec()
	}
}

// Attached reports whether a terminal currently holds the seat.
func (s *Session) Attached() bool { return s.attached.Load() }

// Close tears the session down: worker terminated, segment unmapped and
// its file removed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateClosed {
		return nil
	}
	s.state.Store(int32(StateClosed))

	var firstErr error
	if s.worker != nil {
		if err := s.worker.Close(); err != nil {
			firstErr = err
		}
		s.worker = nil
	}
	if s.seg != nil {
		if err := s.seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.seg.Unlink(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.seg = nil
	}
	s.ch = nil
	log.Debug().Str("session_id", s.ID).Msg("Session closed")
	return firstErr
}

// Info is the session snapshot the HTTP API serves.
type Info struct {
	ID         string               `json:"id"`
	State      string               `json:"state"`
	Running    bool                 `json:"running"`
	Attached   bool                 `json:"attached"`
	CreatedAt  time.Time            `json:"created_at"`
	LastActive time.Time            `json:"last_active"`
	Bridge     *termio.ChannelStats `json:"bridge,omitempty"`
}

// Info snapshots the session without blocking behind an in-flight init:
// bridge counters are included only when the mutex is free.
func (s *Session) Info() Info {
	info := Info{
		ID:         s.ID,
		State:      s.State().String(),
		Running:    s.running.Load(),
		Attached:   s.attached.Load(),
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
	}
	if s.mu.TryLock() {
		if s.ch != nil {
			stats := s.ch.Stats()
			info.Bridge = &stats
		}
		s.mu.Unlock()
	}
	return info
}
