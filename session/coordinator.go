package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ARIS2333/LLM-TTS/player"
	"github.com/ARIS2333/LLM-TTS/tts"
)

var (
	// ErrSessionConflict is returned by Start when another session is live
	// and preemption is disabled.
	ErrSessionConflict = errors.New("another session is active")

	// ErrNoSegments is returned by Start when the request carries no
	// speakable text.
	ErrNoSegments = errors.New("no text segments")
)

// Config holds the coordinator's policy knobs.
type Config struct {
	// Preempt makes Start stop a live session instead of rejecting.
	Preempt bool

	// StopTimeout bounds how long a stop waits for the worker to reach a
	// terminal state before giving up the wait (the stop itself already
	// took effect).
	StopTimeout time.Duration

	// StreamMaxRetries is the total number of synthesis attempts per
	// session before a stream error becomes fatal.
	StreamMaxRetries int

	SystemPrompt string
	TTSOpts      tts.StreamOpts
}

// StartResult reports the accepted session.
type StartResult struct {
	SessionID int64
	State     State
}

// StopResult reports what a stop acted on.
type StopResult struct {
	PreviousState State
	Stopped       bool
}

// Snapshot is a point-in-time view of the coordinator for status reporting.
type Snapshot struct {
	State         State
	SessionID     int64
	StopRequested bool
	HasPlayer     bool
	HasWorker     bool
	Cause         string
}

// Coordinator enforces the single live session. At most one session is
// non-terminal at any time. Start and Stop are serialized on opMu; the slot
// itself is guarded by mu, which is only ever held briefly so Status stays
// responsive while a stop waits out its worker.
type Coordinator struct {
	cfg       Config
	collab    Collaborators
	newPlayer func() *player.Player
	log       *slog.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	current *Session
	lastID  int64
}

// New builds a Coordinator. newPlayer is invoked once per session, on the
// worker goroutine, to build that session's playback pipeline.
func New(cfg Config, collab Collaborators, newPlayer func() *player.Player, log *slog.Logger) *Coordinator {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	if cfg.StreamMaxRetries <= 0 {
		cfg.StreamMaxRetries = 1
	}
	return &Coordinator{
		cfg:       cfg,
		collab:    collab,
		newPlayer: newPlayer,
		log:       log,
	}
}

// Start begins a new session speaking the given segments. With preemption
// enabled a live session is stopped first; otherwise Start returns
// ErrSessionConflict and the live session is untouched.
func (c *Coordinator) Start(segments []string) (StartResult, error) {
	cleaned := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return StartResult{}, ErrNoSegments
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if cur := c.liveSession(); cur != nil {
		if !c.cfg.Preempt {
			return StartResult{}, ErrSessionConflict
		}
		c.log.Info("preempting live session", "session_id", cur.ID())
		c.stopSession(cur)
	}

	c.mu.Lock()
	c.lastID++
	sess := newSession(c.lastID, cleaned)
	c.current = sess
	c.mu.Unlock()

	w := &worker{
		sess:         sess,
		collab:       c.collab,
		newPlayer:    c.newPlayer,
		ttsOpts:      c.cfg.TTSOpts,
		systemPrompt: c.cfg.SystemPrompt,
		maxRetries:   c.cfg.StreamMaxRetries,
		log:          c.log,
	}
	go w.run()

	c.log.Info("session started", "session_id", sess.ID(), "segments", len(cleaned))
	return StartResult{SessionID: sess.ID(), State: sess.State()}, nil
}

// Stop halts the live session, if any. It is idempotent and never fails:
// stopping an idle coordinator or an already terminal session is a no-op.
func (c *Coordinator) Stop() StopResult {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cur := c.liveSession()
	if cur == nil {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		return StopResult{PreviousState: StateIdle}
	}
	prev := c.stopSession(cur)
	return StopResult{PreviousState: prev, Stopped: true}
}

// liveSession returns the slot's session if it is still non-terminal.
func (c *Coordinator) liveSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.State().Terminal() {
		return nil
	}
	return c.current
}

// stopSession requests a stop, tears down playback immediately, and waits
// (bounded) for the worker to finish. Caller holds opMu but not mu, so
// Status stays readable for the whole wait.
func (c *Coordinator) stopSession(sess *Session) State {
	prev := sess.State()
	sess.RequestStop()
	if p := sess.Player(); p != nil {
		p.Stop()
	}
	select {
	case <-sess.Done():
	case <-time.After(c.cfg.StopTimeout):
		c.log.Warn("timed out waiting for session worker",
			"session_id", sess.ID(), "timeout", c.cfg.StopTimeout)
	}

	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	c.mu.Unlock()
	return prev
}

// Status reports the coordinator's current view. It never blocks on an
// in-flight start or stop: the slot lock is held only to read the pointer,
// and the snapshot itself comes from the session's own atomics.
func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil {
		return Snapshot{State: StateIdle}
	}

	snap := Snapshot{
		State:         cur.State(),
		SessionID:     cur.ID(),
		StopRequested: cur.StopRequested(),
	}
	if p := cur.Player(); p != nil && p.State() != player.StateClosed {
		snap.HasPlayer = true
	}
	select {
	case <-cur.Done():
	default:
		snap.HasWorker = true
	}
	if err := cur.Cause(); err != nil {
		snap.Cause = err.Error()
	}
	return snap
}
