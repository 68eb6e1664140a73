package sound

import "sync"

// MemorySink records everything written to it. Used in tests to verify
// playback ordering and shutdown behavior.
type MemorySink struct {
	// BlockWrites makes Write block until the sink is closed, simulating a
	// full device buffer.
	BlockWrites bool

	mu         sync.Mutex
	writes     [][]byte
	opened     bool
	closed     bool
	sampleRate int
	channels   int
	unblock    chan struct{}
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{unblock: make(chan struct{})}
}

func (s *MemorySink) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.sampleRate = sampleRate
	s.channels = channels
	return nil
}

func (s *MemorySink) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	block := s.BlockWrites
	s.mu.Unlock()

	if block {
		<-s.unblock
		return ErrSinkClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.writes = append(s.writes, buf)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.unblock != nil {
		close(s.unblock)
	}
	return nil
}

// Data returns all written samples concatenated in write order.
func (s *MemorySink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

// Writes returns the individual write calls in order.
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *MemorySink) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
