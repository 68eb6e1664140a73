package sound

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const defaultFramesPerBuffer = 512

// PortaudioSink plays PCM samples through the default output device.
type PortaudioSink struct {
	stream      *portaudio.Stream
	audioBuffer []int16
	channels    int
	closed      atomic.Bool
}

var _ Sink = (*PortaudioSink)(nil)

func NewPortaudioSink() *PortaudioSink {
	return &PortaudioSink{}
}

func (s *PortaudioSink) Open(sampleRate, channels int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio system: %w", err)
	}

	buffer := make([]int16, defaultFramesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), defaultFramesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.stream = stream
	s.audioBuffer = buffer
	s.channels = channels
	return nil
}

// Write blocks until the device has consumed all samples. A concurrent Close
// aborts the device buffer and unblocks it.
func (s *PortaudioSink) Write(pcm []byte) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if s.stream == nil {
		return fmt.Errorf("sound: sink not opened")
	}

	samples := convertBytesToSamples(pcm)
	bufferLen := len(s.audioBuffer)

	for offset := 0; offset < len(samples); offset += bufferLen {
		if s.closed.Load() {
			return ErrSinkClosed
		}

		end := offset + bufferLen
		if end > len(samples) {
			end = len(samples)
		}
		n := copy(s.audioBuffer, samples[offset:end])
		// Zero-fill the tail of the final, partial buffer.
		for i := n; i < bufferLen; i++ {
			s.audioBuffer[i] = 0
		}

		if err := s.stream.Write(); err != nil {
			if s.closed.Load() {
				return ErrSinkClosed
			}
			return fmt.Errorf("error writing audio: %w", err)
		}
	}
	return nil
}

// Close aborts playback immediately, dropping buffered audio rather than
// waiting for it to drain.
func (s *PortaudioSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.stream != nil {
		s.stream.Abort()
		s.stream.Close()
	}
	portaudio.Terminate()
	return nil
}

func convertBytesToSamples(audioBytes []byte) []int16 {
	samples := make([]int16, len(audioBytes)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(audioBytes[i*2 : i*2+2]))
	}
	return samples
}
