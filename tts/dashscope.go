package tts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const dashScopeWSEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"

// DashScopeClient synthesizes speech over the DashScope duplex WebSocket
// protocol: a run-task command opens the task, continue-task frames stream
// text in, binary frames stream audio out, and finish-task flushes the tail.
type DashScopeClient struct {
	apiKey   string
	endpoint string
}

var _ Synthesizer = (*DashScopeClient)(nil)

// NewDashScopeClient creates a DashScope TTS client.
func NewDashScopeClient(apiKey string) *DashScopeClient {
	return &DashScopeClient{apiKey: apiKey, endpoint: dashScopeWSEndpoint}
}

// NewDashScopeClientWithEndpoint creates a client against a custom WebSocket
// endpoint. Used in tests.
func NewDashScopeClientWithEndpoint(apiKey, endpoint string) *DashScopeClient {
	return &DashScopeClient{apiKey: apiKey, endpoint: endpoint}
}

type wsHeader struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type wsMessage struct {
	Header  wsHeader       `json:"header"`
	Payload map[string]any `json:"payload,omitempty"`
}

// OpenStream dials the backend, starts a synthesis task, and returns once the
// task-started event has been received.
func (c *DashScopeClient) OpenStream(ctx context.Context, opts StreamOpts) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "bearer "+c.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to synthesis service: %w", err)
	}

	s := &dashScopeStream{
		conn:       conn,
		taskID:     newTaskID(),
		chunks:     make(chan Chunk, 16),
		started:    make(chan struct{}),
		quit:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	runTask := wsMessage{
		Header: wsHeader{Action: "run-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: map[string]any{
			"task_group": "audio",
			"task":       "tts",
			"function":   "SpeechSynthesizer",
			"model":      opts.Model,
			"parameters": map[string]any{
				"text_type":   "PlainText",
				"voice":       opts.Voice,
				"format":      opts.Format,
				"sample_rate": opts.SampleRate,
				"volume":      50,
				"rate":        1.0,
				"pitch":       1.0,
			},
			"input": map[string]any{},
		},
	}
	if err := conn.WriteJSON(runTask); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start synthesis task: %w", err)
	}

	go s.readLoop()

	select {
	case <-s.started:
	case <-s.readerDone:
		err := s.streamErr()
		s.Close()
		if err == nil {
			err = fmt.Errorf("synthesis stream closed before task started")
		}
		return nil, err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// Close is a no-op; connections are per-stream.
func (c *DashScopeClient) Close() error { return nil }

type dashScopeStream struct {
	conn       *websocket.Conn
	taskID     string
	chunks     chan Chunk
	started    chan struct{}
	quit       chan struct{}
	readerDone chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	err      error
	finished bool
}

// readLoop drains the connection: binary frames are audio chunks, text frames
// are task lifecycle events. It is the only closer of s.chunks.
func (s *dashScopeStream) readLoop() {
	defer close(s.readerDone)
	defer close(s.chunks)

	seq := 0
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("synthesis stream read error: %w", err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			select {
			case s.chunks <- Chunk{Seq: seq, Data: data}:
				seq++
			case <-s.quit:
				return
			}
		case websocket.TextMessage:
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.setErr(fmt.Errorf("failed to decode synthesis event: %w", err))
				return
			}
			switch msg.Header.Event {
			case "task-started":
				s.startOnce.Do(func() { close(s.started) })
			case "task-finished":
				s.markFinished()
				return
			case "task-failed":
				s.setErr(fmt.Errorf("synthesis task failed: %s", msg.Header.ErrorMessage))
				return
			}
		}
	}
}

func (s *dashScopeStream) SendText(text string) error {
	msg := wsMessage{
		Header:  wsHeader{Action: "continue-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: map[string]any{"input": map[string]any{"text": text}},
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send text to synthesizer: %w", err)
	}
	return nil
}

func (s *dashScopeStream) Finish() error {
	msg := wsMessage{
		Header:  wsHeader{Action: "finish-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: map[string]any{"input": map[string]any{}},
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to finish synthesis task: %w", err)
	}
	return nil
}

func (s *dashScopeStream) Recv() (Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.finished || s.err == nil {
			return Chunk{}, io.EOF
		}
		return Chunk{}, s.err
	}
	return chunk, nil
}

// Close force-closes the connection, which makes the read loop exit and
// unblocks any pending Recv.
func (s *dashScopeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.conn.Close()
	})
	return nil
}

func (s *dashScopeStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.finished {
		s.err = err
	}
}

func (s *dashScopeStream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *dashScopeStream) streamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func newTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
