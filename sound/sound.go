// Package sound renders raw PCM samples to an audio output device.
package sound

import "errors"

// ErrSinkClosed is returned by Write after the sink has been closed. A write
// interrupted by a concurrent Close reports this instead of hanging.
var ErrSinkClosed = errors.New("sound: sink closed")

// Sink defines the interface for audio output.
//
// Write may block on the device buffer; Close must be callable from another
// goroutine while a Write is in flight and must unblock it. Close is
// idempotent and releases the device.
type Sink interface {
	// Open acquires the output device for the given format.
	Open(sampleRate, channels int) error

	// Write renders little-endian 16-bit PCM samples.
	Write(pcm []byte) error

	// Close force-stops playback, dropping any buffered audio, and releases
	// the device.
	Close() error
}

// NullSink discards all samples. It stands in for the device on machines
// without audio output.
type NullSink struct{}

var _ Sink = (*NullSink)(nil)

func NewNullSink() *NullSink { return &NullSink{} }

func (*NullSink) Open(sampleRate, channels int) error { return nil }
func (*NullSink) Write(pcm []byte) error              { return nil }
func (*NullSink) Close() error                        { return nil }
