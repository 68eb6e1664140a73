package player

import (
	"errors"
	"fmt"
	"io"
	"sync"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Decoder turns compressed audio bytes into raw 16-bit LE PCM incrementally.
// Feed and Read run on different goroutines; Close force-terminates the
// decoder and unblocks both sides without their cooperation.
type Decoder interface {
	// Feed appends compressed bytes to the decoder input. It may block until
	// the decode side has consumed earlier input (backpressure).
	Feed(p []byte) (int, error)

	// Read blocks until decoded samples are available. It returns io.EOF
	// once the input side has been finished and fully drained.
	Read(p []byte) (int, error)

	// Channels reports the channel count of the decoded output.
	Channels() int

	// FinishInput signals that no more compressed bytes will arrive; Read
	// drains the remainder and then reports io.EOF.
	FinishInput() error

	// Close terminates the decoder immediately from any goroutine.
	Close() error
}

// MP3Decoder decodes an MP3 byte stream into PCM through an in-process
// pipe. Output is 16-bit LE stereo at the source sample rate.
type MP3Decoder struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu  sync.Mutex
	dec *mp3.Decoder
}

var _ Decoder = (*MP3Decoder)(nil)

func NewMP3Decoder() *MP3Decoder {
	pr, pw := io.Pipe()
	return &MP3Decoder{pr: pr, pw: pw}
}

func (d *MP3Decoder) Feed(p []byte) (int, error) {
	return d.pw.Write(p)
}

// Read lazily initializes the underlying decoder on first call: parsing the
// stream header blocks until enough bytes have been fed.
func (d *MP3Decoder) Read(p []byte) (int, error) {
	d.mu.Lock()
	dec := d.dec
	d.mu.Unlock()

	if dec == nil {
		var err error
		dec, err = mp3.NewDecoder(d.pr)
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrPlayerClosed) {
				return 0, err
			}
			return 0, fmt.Errorf("failed to open mp3 stream: %w", err)
		}
		d.mu.Lock()
		d.dec = dec
		d.mu.Unlock()
	}
	return dec.Read(p)
}

// Channels is always 2: the decoder upmixes mono sources to stereo.
func (d *MP3Decoder) Channels() int { return 2 }

func (d *MP3Decoder) FinishInput() error {
	return d.pw.Close()
}

func (d *MP3Decoder) Close() error {
	d.pw.CloseWithError(ErrPlayerClosed)
	d.pr.CloseWithError(ErrPlayerClosed)
	return nil
}

// PCMDecoder passes raw PCM bytes through untouched, for backends that emit
// uncompressed audio directly.
type PCMDecoder struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

var _ Decoder = (*PCMDecoder)(nil)

func NewPCMDecoder() *PCMDecoder {
	pr, pw := io.Pipe()
	return &PCMDecoder{pr: pr, pw: pw}
}

func (d *PCMDecoder) Feed(p []byte) (int, error) {
	return d.pw.Write(p)
}

func (d *PCMDecoder) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

func (d *PCMDecoder) Channels() int { return 1 }

func (d *PCMDecoder) FinishInput() error {
	return d.pw.Close()
}

func (d *PCMDecoder) Close() error {
	d.pw.CloseWithError(ErrPlayerClosed)
	d.pr.CloseWithError(ErrPlayerClosed)
	return nil
}
