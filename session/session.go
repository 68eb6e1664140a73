// Package session coordinates text-to-speech playback sessions: a
// process-wide single-session slot, a background synthesis worker per
// session, and deterministic teardown on stop.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ARIS2333/LLM-TTS/player"
)

// State is the session lifecycle state. Transitions only move forward:
// Starting → Running → (Stopping) → Stopped, or → Failed from any live state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session represents one text→speech→playback run. It is created by the
// Coordinator, driven to a terminal state by its worker, and mutated from
// outside the worker only through RequestStop.
type Session struct {
	id       int64
	segments []string

	state         atomic.Int32
	stopRequested atomic.Bool

	// ctx is cancelled by RequestStop; the worker uses it for all
	// collaborator I/O so a stop also severs in-flight network streams.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	player *player.Player
	cause  error

	// done is closed by the worker once the session is terminal.
	done chan struct{}
}

func newSession(id int64, segments []string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		segments: segments,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	return s
}

// ID returns the session id. Ids increase monotonically and are never
// reused.
func (s *Session) ID() int64 { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// transition moves the state forward. It refuses regressions and any
// transition out of a terminal state.
func (s *Session) transition(to State) bool {
	for {
		cur := State(s.state.Load())
		if cur.Terminal() || to <= cur {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// RequestStop sets the stop flag (exactly once, never cleared), moves a live
// session to Stopping, and cancels the worker's collaborator context. The
// worker observes the flag at segment and chunk boundaries and performs the
// terminal transition itself.
func (s *Session) RequestStop() {
	if s.stopRequested.CompareAndSwap(false, true) {
		s.transition(StateStopping)
		s.cancel()
	}
}

// StopRequested reports whether a stop has been requested.
func (s *Session) StopRequested() bool { return s.stopRequested.Load() }

// Done is closed once the worker has reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Player returns the session's player, or nil before synthesis begins.
func (s *Session) Player() *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *Session) attachPlayer(p *player.Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// Cause returns the recorded failure cause, if any.
func (s *Session) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) setCause(err error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = err
	}
	s.mu.Unlock()
}
