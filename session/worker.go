package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ARIS2333/LLM-TTS/llm"
	"github.com/ARIS2333/LLM-TTS/player"
	"github.com/ARIS2333/LLM-TTS/tts"
)

// errPlayback marks failures on the audio output path. They terminate the
// session immediately instead of being retried like network stream errors.
var errPlayback = errors.New("playback failure")

// Collaborators bundles the streaming backends a worker drives.
type Collaborators struct {
	LLM llm.Streamer
	TTS tts.Synthesizer
}

// worker owns one session end to end: completion deltas in, synthesized
// audio out, terminal state transition last.
type worker struct {
	sess      *Session
	collab    Collaborators
	newPlayer func() *player.Player

	ttsOpts      tts.StreamOpts
	systemPrompt string
	maxRetries   int
	log          *slog.Logger
}

// run is the worker goroutine body. It is the only writer of terminal
// states and always closes the session's done channel on exit.
func (w *worker) run() {
	defer close(w.sess.done)

	log := w.log.With("session_id", w.sess.ID())
	if !w.sess.transition(StateRunning) {
		// Stop arrived before we got going.
		w.sess.transition(StateStopped)
		log.Info("session stopped before synthesis began")
		return
	}
	log.Info("session running", "segments", len(w.sess.segments))

	p := w.newPlayer()
	if err := p.Open(); err != nil {
		w.fail(log, fmt.Errorf("%w: open player: %w", errPlayback, err))
		return
	}
	w.sess.attachPlayer(p)
	defer p.Stop()

	err := w.synthesize(p)
	if w.sess.StopRequested() {
		p.Stop()
		w.sess.transition(StateStopped)
		log.Info("session stopped")
		return
	}
	if err != nil {
		p.Stop()
		w.fail(log, err)
		return
	}

	// All chunks are in the decoder; wait for playback to finish.
	if derr := p.Drain(); derr != nil && !errors.Is(derr, player.ErrPlayerClosed) {
		p.Stop()
		if w.sess.StopRequested() {
			w.sess.transition(StateStopped)
			log.Info("session stopped")
			return
		}
		w.fail(log, fmt.Errorf("%w: %w", errPlayback, derr))
		return
	}
	p.Stop()
	w.sess.transition(StateStopped)
	log.Info("session complete")
}

func (w *worker) fail(log *slog.Logger, err error) {
	w.sess.setCause(err)
	w.sess.transition(StateFailed)
	log.Error("session failed", "error", err)
}

// synthesize streams every segment through the LLM and TTS collaborators
// into the player. Transient stream errors are retried with backoff,
// resuming from the first segment whose audio was not fully requested;
// playback errors abort immediately.
func (w *worker) synthesize(p *player.Player) error {
	remaining := append([]string(nil), w.sess.segments...)
	sentPrefix := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	attempt := func() (struct{}, error) {
		var zero struct{}
		if w.sess.StopRequested() {
			return zero, nil
		}
		forwardedBefore := len(w.sess.segments) - len(remaining)

		ts, err := w.collab.TTS.OpenStream(w.sess.ctx, w.ttsOpts)
		if err != nil {
			return zero, fmt.Errorf("open synthesis stream: %w", err)
		}
		defer ts.Close()

		pumpDone := make(chan error, 1)
		go func() { pumpDone <- w.pump(ts, p) }()

		var sendErr error
		for len(remaining) > 0 && !w.sess.StopRequested() {
			n, err := w.speakSegment(ts, remaining[0], sentPrefix)
			sentPrefix = n
			if err != nil {
				sendErr = err
				break
			}
			remaining = remaining[1:]
			sentPrefix = 0
		}

		if sendErr != nil || w.sess.StopRequested() {
			ts.Close()
			<-pumpDone
			if w.sess.StopRequested() {
				return zero, nil
			}
			return zero, sendErr
		}

		if err := ts.Finish(); err != nil {
			ts.Close()
			<-pumpDone
			return zero, fmt.Errorf("finish synthesis: %w", err)
		}
		pumpErr := <-pumpDone
		if pumpErr != nil && errors.Is(pumpErr, errPlayback) {
			return zero, backoff.Permanent(pumpErr)
		}
		if pumpErr != nil {
			// A retry resumes at the first segment whose text was not fully
			// forwarded; audio already requested for earlier segments is not
			// regenerated, so playback may be truncated. Make that gap
			// visible instead of passing it off as a clean run.
			forwarded := len(w.sess.segments) - len(remaining)
			if forwarded > forwardedBefore {
				w.log.Warn("synthesis stream failed after text was forwarded, audio may be truncated",
					"session_id", w.sess.ID(),
					"segments_forwarded", forwarded-forwardedBefore)
			}
			if len(remaining) == 0 {
				// Every segment's text was delivered; the lost audio cannot
				// be regenerated without speaking the same words again.
				return zero, backoff.Permanent(pumpErr)
			}
		}
		return zero, pumpErr
	}

	_, err := backoff.Retry(w.sess.ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(w.maxRetries)))
	return err
}

// pump forwards synthesized audio chunks into the player until the stream
// ends. A player closed by a concurrent stop ends the pump cleanly.
func (w *worker) pump(ts tts.Stream, p *player.Player) error {
	for {
		chunk, err := ts.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("synthesis stream: %w", err)
		}
		if w.sess.StopRequested() {
			return nil
		}
		if werr := p.Write(chunk.Data); werr != nil {
			if errors.Is(werr, player.ErrPlayerClosed) {
				return nil
			}
			return fmt.Errorf("%w: %w", errPlayback, werr)
		}
	}
}

// speakSegment streams one segment's completion deltas into the synthesis
// stream. already is the byte length of this segment's completion that an
// earlier attempt forwarded; only text beyond it is resent, so a retry never
// speaks the same words twice. It returns the new forwarded length.
func (w *worker) speakSegment(ts tts.Stream, segment string, already int) (int, error) {
	stream, err := w.collab.LLM.Stream(w.sess.ctx, llm.Request{
		Prompt: segment,
		System: w.systemPrompt,
	})
	if err != nil {
		return already, fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	sent := already
	for {
		if w.sess.StopRequested() {
			return sent, nil
		}
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("completion stream: %w", err)
		}
		text.WriteString(delta)
		if text.Len() > sent {
			if serr := ts.SendText(text.String()[sent:]); serr != nil {
				return sent, fmt.Errorf("forward text: %w", serr)
			}
			sent = text.Len()
		}
	}
	return sent, nil
}
