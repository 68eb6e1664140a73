package tts

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	ttsv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
)

const yandexTTSEndpoint = "tts.api.cloud.yandex.net:443"

// YandexClient synthesizes speech via the SpeechKit v3 UtteranceSynthesis
// API. The API synthesizes one utterance per call, so the stream adapter
// buffers incoming text and launches synthesis on Finish, then streams the
// resulting audio chunks.
type YandexClient struct {
	client   ttsv3.SynthesizerClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
}

var _ Synthesizer = (*YandexClient)(nil)

// NewYandexClient connects to the SpeechKit synthesis endpoint.
func NewYandexClient(apiKey, folderID string) (*YandexClient, error) {
	creds := credentials.NewTLS(&tls.Config{})
	conn, err := grpc.NewClient(yandexTTSEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return &YandexClient{
		client:   ttsv3.NewSynthesizerClient(conn),
		conn:     conn,
		apiKey:   apiKey,
		folderID: folderID,
	}, nil
}

func (c *YandexClient) OpenStream(ctx context.Context, opts StreamOpts) (Stream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+c.apiKey)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", c.folderID)
	ctx, cancel := context.WithCancel(ctx)

	return &yandexStream{
		client: c.client,
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		chunks: make(chan Chunk, 16),
		errc:   make(chan error, 1),
	}, nil
}

func (c *YandexClient) Close() error {
	return c.conn.Close()
}

type yandexStream struct {
	client ttsv3.SynthesizerClient
	ctx    context.Context
	cancel context.CancelFunc
	opts   StreamOpts

	text      strings.Builder
	finishOne sync.Once
	closeOne  sync.Once

	chunks chan Chunk
	errc   chan error
}

func (s *yandexStream) SendText(text string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.text.WriteString(text)
	return nil
}

// Finish issues the synthesis call for the buffered utterance and starts
// pumping audio chunks.
func (s *yandexStream) Finish() error {
	var startErr error
	s.finishOne.Do(func() {
		stream, err := s.client.UtteranceSynthesis(s.ctx, s.buildRequest())
		if err != nil {
			startErr = fmt.Errorf("failed to start synthesis: %w", err)
			close(s.chunks)
			return
		}
		go s.pump(stream)
	})
	return startErr
}

func (s *yandexStream) pump(stream ttsv3.Synthesizer_UtteranceSynthesisClient) {
	defer close(s.chunks)

	seq := 0
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.errc <- fmt.Errorf("failed to receive audio data: %w", err)
			return
		}
		if audioChunk := resp.GetAudioChunk(); audioChunk != nil {
			select {
			case s.chunks <- Chunk{Seq: seq, Data: audioChunk.GetData()}:
				seq++
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *yandexStream) Recv() (Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		select {
		case err := <-s.errc:
			return Chunk{}, err
		default:
			return Chunk{}, io.EOF
		}
	}
	return chunk, nil
}

func (s *yandexStream) Close() error {
	s.closeOne.Do(s.cancel)
	return nil
}

func (s *yandexStream) buildRequest() *ttsv3.UtteranceSynthesisRequest {
	req := &ttsv3.UtteranceSynthesisRequest{}
	req.SetModel(s.opts.Model)
	req.SetText(s.text.String())

	voiceHint := &ttsv3.Hints{}
	voiceHint.SetVoice(s.opts.Voice)
	speedHint := &ttsv3.Hints{}
	speedHint.SetSpeed(1.0)
	req.SetHints([]*ttsv3.Hints{voiceHint, speedHint})

	audioSpec := &ttsv3.AudioFormatOptions{}
	if s.opts.Format == "pcm" {
		rawAudio := &ttsv3.RawAudio{}
		rawAudio.SetAudioEncoding(ttsv3.RawAudio_LINEAR16_PCM)
		rawAudio.SetSampleRateHertz(int64(s.opts.SampleRate))
		audioSpec.SetRawAudio(rawAudio)
	} else {
		containerAudio := &ttsv3.ContainerAudio{}
		containerAudio.SetContainerAudioType(ttsv3.ContainerAudio_MP3)
		audioSpec.SetContainerAudio(containerAudio)
	}
	req.SetOutputAudioSpec(audioSpec)
	req.SetLoudnessNormalizationType(ttsv3.UtteranceSynthesisRequest_LUFS)

	return req
}
