package tts

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockSynthesizer emits one audio chunk per SendText call, with the chunk
// data derived from the text. Used in tests and for exercising the playback
// pipeline without a live backend.
type MockSynthesizer struct {
	// FailAtChunk, when > 0, makes that emission (1-based) fail instead of
	// producing a chunk, and every reopened stream fail the same way.
	FailAtChunk int

	// OpenErr, if set, is returned by OpenStream.
	OpenErr error

	mu      sync.Mutex
	opened  int
	emitted int
}

var _ Synthesizer = (*MockSynthesizer)(nil)

// NewMockSynthesizer creates a mock TTS backend.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

// Opened reports how many streams have been opened.
func (m *MockSynthesizer) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockSynthesizer) OpenStream(ctx context.Context, opts StreamOpts) (Stream, error) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	ctx, cancel := context.WithCancel(ctx)
	return &mockTTSStream{
		parent: m,
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan Chunk, 64),
	}, nil
}

func (m *MockSynthesizer) Close() error { return nil }

type mockTTSStream struct {
	parent *MockSynthesizer
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	seq      int
	failed   bool
	finished bool
	err      error
	chunks   chan Chunk
}

func (s *mockTTSStream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if s.failed || s.finished {
		return fmt.Errorf("send on terminated stream")
	}

	s.parent.mu.Lock()
	s.parent.emitted++
	emission := s.parent.emitted
	failAt := s.parent.FailAtChunk
	s.parent.mu.Unlock()

	if failAt > 0 && emission >= failAt {
		s.failed = true
		s.err = fmt.Errorf("synthesis backend dropped connection")
		close(s.chunks)
		return s.err
	}

	s.chunks <- Chunk{Seq: s.seq, Data: []byte(text)}
	s.seq++
	return nil
}

func (s *mockTTSStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || s.finished {
		return nil
	}
	s.finished = true
	close(s.chunks)
	return nil
}

func (s *mockTTSStream) Recv() (Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return Chunk{}, s.err
			}
			return Chunk{}, io.EOF
		}
		return chunk, nil
	case <-s.ctx.Done():
		return Chunk{}, s.ctx.Err()
	}
}

func (s *mockTTSStream) Close() error {
	s.cancel()
	return nil
}
