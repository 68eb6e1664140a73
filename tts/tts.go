// Package tts streams synthesized speech from a text-to-speech backend.
package tts

import "context"

// Chunk is one unit of compressed audio emitted by the backend. Seq is a
// monotonic sequence number assigned at emission time; chunk order must be
// preserved all the way to playback.
type Chunk struct {
	Seq  int
	Data []byte
}

// StreamOpts configures one synthesis stream.
type StreamOpts struct {
	Model      string
	Voice      string
	Format     string // "mp3" or "pcm"
	SampleRate int
}

// Stream is a duplex synthesis stream: text goes in incrementally, audio
// chunks come out incrementally.
//
// SendText and Finish must be called from a single goroutine. Recv may run
// concurrently with them. Close cancels upstream production, unblocks a
// pending Recv, and is safe to call from any goroutine any number of times.
type Stream interface {
	// SendText forwards a text fragment to the synthesizer.
	SendText(text string) error

	// Finish signals end of input. Recv keeps delivering chunks until the
	// backend has flushed everything, then returns io.EOF.
	Finish() error

	// Recv blocks for the next audio chunk. Returns io.EOF after the final
	// chunk of a finished stream.
	Recv() (Chunk, error)

	// Close tears the stream down immediately.
	Close() error
}

// Synthesizer defines a pluggable streaming TTS backend.
type Synthesizer interface {
	OpenStream(ctx context.Context, opts StreamOpts) (Stream, error)
	Close() error
}
