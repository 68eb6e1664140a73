package player

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ARIS2333/LLM-TTS/sound"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPlayer(t *testing.T, sink sound.Sink) *Player {
	t.Helper()
	p := New(NewPCMDecoder(), sink, 22050, newTestLogger())
	if err := p.Open(); err != nil {
		t.Fatalf("open player: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPlaybackPreservesChunkOrder(t *testing.T) {
	sink := sound.NewMemorySink()
	p := newTestPlayer(t, sink)

	chunks := [][]byte{[]byte("chunk-1"), []byte("chunk-2"), []byte("chunk-3")}
	for _, c := range chunks {
		if err := p.Write(c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := p.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	want := bytes.Join(chunks, nil)
	if got := sink.Data(); !bytes.Equal(got, want) {
		t.Fatalf("playback order mismatch: got %q want %q", got, want)
	}
}

func TestStopUnblocksPendingWrite(t *testing.T) {
	sink := sound.NewMemorySink()
	sink.BlockWrites = true
	p := newTestPlayer(t, sink)

	writeErr := make(chan error, 2)
	go func() {
		// The reader loop wedges on the blocked sink, so the pipe backs up
		// and a write eventually blocks.
		for i := 0; i < 2; i++ {
			writeErr <- p.Write(bytes.Repeat([]byte{0xAA}, 8192))
		}
	}()

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not complete while a write was blocked")
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case err := <-writeErr:
			if err != nil && !errors.Is(err, ErrPlayerClosed) {
				t.Fatalf("blocked write returned unexpected error: %v", err)
			}
		case <-deadline:
			t.Fatal("write did not unblock after stop")
		}
	}

	if !sink.Closed() {
		t.Fatal("sink not closed after stop")
	}
	if p.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", p.State())
	}
}

func TestStopIdempotent(t *testing.T) {
	sink := sound.NewMemorySink()
	p := newTestPlayer(t, sink)

	if err := p.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("reset after stop: %v", err)
	}
	if p.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", p.State())
	}
}

func TestStopBeforeOpenIsNoOp(t *testing.T) {
	p := New(NewPCMDecoder(), sound.NewMemorySink(), 22050, newTestLogger())
	if err := p.Stop(); err != nil {
		t.Fatalf("stop on unopened player: %v", err)
	}
	if p.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", p.State())
	}
}

func TestWriteAfterStopReturnsPlayerClosed(t *testing.T) {
	sink := sound.NewMemorySink()
	p := newTestPlayer(t, sink)

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Write([]byte("late")); !errors.Is(err, ErrPlayerClosed) {
		t.Fatalf("expected ErrPlayerClosed, got %v", err)
	}
}

func TestStopTruncatesUnplayedTail(t *testing.T) {
	sink := sound.NewMemorySink()
	sink.BlockWrites = true
	p := newTestPlayer(t, sink)

	go func() {
		_ = p.Write(bytes.Repeat([]byte{0x01}, 8192))
	}()
	time.Sleep(50 * time.Millisecond)

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Blocked sink never accepted a write, so nothing must have been played.
	if sink.Writes() != 0 {
		t.Fatalf("expected truncated playback, got %d writes", sink.Writes())
	}
}

type failingSink struct{}

func (f *failingSink) Open(sampleRate, channels int) error { return fmt.Errorf("device busy") }
func (f *failingSink) Write(pcm []byte) error              { return fmt.Errorf("device busy") }
func (f *failingSink) Close() error                        { return nil }

func TestOpenFailureClosesDecoderToo(t *testing.T) {
	dec := NewPCMDecoder()
	p := New(dec, &failingSink{}, 22050, newTestLogger())

	if err := p.Open(); err == nil {
		t.Fatal("expected open to fail")
	}
	if p.State() != StateClosed {
		t.Fatalf("expected Closed state, got %s", p.State())
	}
	// Decoder must have been torn down with the sink.
	if _, err := dec.Feed([]byte("x")); err == nil {
		t.Fatal("expected feed on closed decoder to fail")
	}
}

type faultySink struct {
	sound.MemorySink
	failAfter int
	writes    int
}

func (f *faultySink) Write(pcm []byte) error {
	f.writes++
	if f.writes > f.failAfter {
		return fmt.Errorf("device gone")
	}
	return f.MemorySink.Write(pcm)
}

func TestDeviceFailureRecordedAsPlaybackError(t *testing.T) {
	sink := &faultySink{failAfter: 0}
	p := New(NewPCMDecoder(), sink, 22050, newTestLogger())
	if err := p.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	_ = p.Write([]byte("samples"))
	err := p.Drain()
	if err == nil {
		t.Fatal("expected drain to surface device failure")
	}
	if errors.Is(err, ErrPlayerClosed) {
		t.Fatalf("device failure must not look like a clean shutdown: %v", err)
	}
}

// vanishingSink reports itself closed on every write, as a device torn down
// behind the player's back would.
type vanishingSink struct{}

func (v *vanishingSink) Open(sampleRate, channels int) error { return nil }
func (v *vanishingSink) Write(pcm []byte) error              { return sound.ErrSinkClosed }
func (v *vanishingSink) Close() error                        { return nil }

func TestSinkClosedOutsideStopUnblocksWriter(t *testing.T) {
	p := New(NewPCMDecoder(), &vanishingSink{}, 22050, newTestLogger())
	if err := p.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	// The first write may land before the reader loop notices the dead
	// sink; the second must not block on a pipe nobody reads anymore.
	results := make(chan error, 2)
	go func() {
		results <- p.Write([]byte("first"))
		results <- p.Write([]byte("second"))
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil && !errors.Is(err, ErrPlayerClosed) {
				t.Fatalf("write %d: unexpected error %v", i+1, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("write %d blocked after sink closed itself", i+1)
		}
	}
}
