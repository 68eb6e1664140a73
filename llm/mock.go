package llm

import (
	"context"
	"io"
	"sync"
)

// MockStreamer replays a fixed set of deltas for every prompt. Used in tests
// and for wiring the pipeline without a live backend.
type MockStreamer struct {
	Deltas []string

	// OpenErr, if set, is returned by Stream before any delta is produced.
	OpenErr error

	// FailAfter, when >= 0, makes the stream return FailErr after that many
	// deltas have been delivered.
	FailAfter int
	FailErr   error

	mu    sync.Mutex
	calls int
}

var _ Streamer = (*MockStreamer)(nil)

// NewMockStreamer creates a streamer that yields the given deltas per prompt.
func NewMockStreamer(deltas ...string) *MockStreamer {
	return &MockStreamer{Deltas: deltas, FailAfter: -1}
}

// Calls reports how many streams have been opened.
func (m *MockStreamer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockStreamer) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &mockStream{ctx: ctx, parent: m}, nil
}

type mockStream struct {
	ctx    context.Context
	parent *MockStreamer
	pos    int
	closed bool
}

func (s *mockStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.parent.FailAfter >= 0 && s.pos >= s.parent.FailAfter {
		return "", s.parent.FailErr
	}
	if s.pos >= len(s.parent.Deltas) {
		return "", io.EOF
	}
	delta := s.parent.Deltas[s.pos]
	s.pos++
	return delta, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
