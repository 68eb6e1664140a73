// Package player turns an ordered stream of compressed audio chunks into
// continuous audio output, with race-free forced shutdown from any goroutine.
package player

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ARIS2333/LLM-TTS/sound"
)

// ErrPlayerClosed is returned by Write once the player has been stopped. The
// caller treats it as "stop already happened", not as a failure.
var ErrPlayerClosed = errors.New("player: closed")

// State is the player lifecycle state.
type State int32

const (
	StateUnopened State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "Unopened"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

const readBufferSize = 4096

// Player composes a Decoder and a Sink into one resource. Both are opened
// together in Open and closed together in Stop; an internal reader loop
// drains decoded samples to the sink so that decode and playback overlap
// with chunk production.
type Player struct {
	dec        Decoder
	sink       sound.Sink
	sampleRate int
	log        *slog.Logger

	mu          sync.Mutex
	state       State
	readerDone  chan struct{}
	playbackErr error
}

// New creates an unopened player. sampleRate is the PCM rate the sink is
// opened with; the decoder's output is expected to match it.
func New(dec Decoder, sink sound.Sink, sampleRate int, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{dec: dec, sink: sink, sampleRate: sampleRate, log: logger}
}

// Open acquires the output device and starts the reader loop. If the device
// cannot be opened, the decoder is closed too: the pair never ends up half
// open.
func (p *Player) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUnopened {
		return fmt.Errorf("player: open in state %s", p.state)
	}
	if err := p.sink.Open(p.sampleRate, p.dec.Channels()); err != nil {
		p.dec.Close()
		p.state = StateClosed
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	p.state = StateOpen
	p.readerDone = make(chan struct{})
	go p.readLoop()
	return nil
}

// Write feeds one compressed chunk to the decoder. It may block briefly when
// the decoder's input buffer is full; that backpressure throttles the
// producer to the playback rate. Chunks are decoded and played in exactly
// the order they are written.
func (p *Player) Write(chunk []byte) error {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	p.mu.Unlock()

	if _, err := p.dec.Feed(chunk); err != nil {
		// A reader-loop failure closes the decoder; report the underlying
		// cause rather than a clean shutdown.
		if perr := p.Err(); perr != nil {
			return perr
		}
		if errors.Is(err, ErrPlayerClosed) || errors.Is(err, io.ErrClosedPipe) {
			return ErrPlayerClosed
		}
		return fmt.Errorf("player: decoder feed: %w", err)
	}
	return nil
}

// readLoop drains decoded samples to the sink until EOF, a failure, or
// forced shutdown.
func (p *Player) readLoop() {
	defer close(p.readerDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.dec.Read(buf)
		if n > 0 {
			if werr := p.sink.Write(buf[:n]); werr != nil {
				if errors.Is(werr, sound.ErrSinkClosed) {
					// The sink may have closed outside Stop; close the
					// decoder too so a pending Write cannot block on a
					// pipe nobody reads.
					p.dec.Close()
					return
				}
				p.setPlaybackErr(fmt.Errorf("audio output failed: %w", werr))
				p.dec.Close()
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if errors.Is(err, ErrPlayerClosed) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			p.setPlaybackErr(fmt.Errorf("audio decode failed: %w", err))
			p.dec.Close()
			return
		}
	}
}

// Drain marks the input as complete and waits for all already-written audio
// to be decoded and played. A concurrent Stop interrupts the wait.
func (p *Player) Drain() error {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	done := p.readerDone
	p.mu.Unlock()

	if err := p.dec.FinishInput(); err != nil && !errors.Is(err, ErrPlayerClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("player: finish input: %w", err)
	}
	<-done
	return p.Err()
}

// Stop tears the decoder and the sink down together, immediately. Any
// blocked Write unblocks with ErrPlayerClosed, the reader loop exits, and
// the unplayed tail is dropped. Safe to call from any goroutine, any number
// of times, in any state.
func (p *Player) Stop() error {
	p.mu.Lock()
	switch p.state {
	case StateClosing, StateClosed:
		p.mu.Unlock()
		return nil
	case StateUnopened:
		p.state = StateClosed
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosing
	done := p.readerDone
	p.mu.Unlock()

	p.dec.Close()
	p.sink.Close()
	<-done

	p.mu.Lock()
	p.state = StateClosed
	p.mu.Unlock()

	p.log.Debug("player stopped")
	return nil
}

// Reset is an alias for Stop; a player is single-use.
func (p *Player) Reset() error { return p.Stop() }

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err reports a decoder or device failure observed by the reader loop.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbackErr
}

func (p *Player) setPlaybackErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playbackErr == nil {
		p.playbackErr = err
	}
}
