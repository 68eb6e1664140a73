package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// synthServer fakes the duplex synthesis protocol: each continue-task text
// fragment becomes one binary audio frame.
func synthServer(t *testing.T, failOnFinish bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var taskID string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("decode client message: %v", err)
				return
			}

			switch msg.Header.Action {
			case "run-task":
				taskID = msg.Header.TaskID
				started, _ := json.Marshal(wsMessage{Header: wsHeader{Event: "task-started", TaskID: taskID}})
				if err := conn.WriteMessage(websocket.TextMessage, started); err != nil {
					return
				}
			case "continue-task":
				input := msg.Payload["input"].(map[string]any)
				text := input["text"].(string)
				if err := conn.WriteMessage(websocket.BinaryMessage, []byte(text)); err != nil {
					return
				}
			case "finish-task":
				var event wsMessage
				if failOnFinish {
					event = wsMessage{Header: wsHeader{Event: "task-failed", TaskID: taskID, ErrorMessage: "voice unavailable"}}
				} else {
					event = wsMessage{Header: wsHeader{Event: "task-finished", TaskID: taskID}}
				}
				payload, _ := json.Marshal(event)
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
				return
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openTestStream(t *testing.T, failOnFinish bool) Stream {
	t.Helper()
	srv := httptest.NewServer(synthServer(t, failOnFinish))
	t.Cleanup(srv.Close)

	client := NewDashScopeClientWithEndpoint("sk-test", wsURL(srv))
	stream, err := client.OpenStream(context.Background(), StreamOpts{
		Model: "cosyvoice-v2", Voice: "longhua_v2", Format: "mp3", SampleRate: 22050,
	})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream
}

func TestDashScopeStreamRoundTrip(t *testing.T) {
	stream := openTestStream(t, false)

	texts := []string{"hello", " ", "world"}
	for _, text := range texts {
		if err := stream.SendText(text); err != nil {
			t.Fatalf("send text: %v", err)
		}
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	var got []string
	lastSeq := -1
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if chunk.Seq != lastSeq+1 {
			t.Fatalf("sequence gap: got %d after %d", chunk.Seq, lastSeq)
		}
		lastSeq = chunk.Seq
		got = append(got, string(chunk.Data))
	}
	if strings.Join(got, "") != "hello world" {
		t.Fatalf("unexpected audio payload: %q", got)
	}
}

func TestDashScopeStreamTaskFailed(t *testing.T) {
	stream := openTestStream(t, true)

	if err := stream.SendText("hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// First frame is the synthesized chunk, then the failure surfaces.
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first recv: %v", err)
	}
	_, err := stream.Recv()
	if err == nil || err == io.EOF {
		t.Fatalf("expected task failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "voice unavailable") {
		t.Fatalf("expected cause in error, got %v", err)
	}
}

func TestDashScopeStreamCloseUnblocksRecv(t *testing.T) {
	stream := openTestStream(t, false)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected recv to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not unblock after close")
	}
}

func TestDashScopeStreamCloseIdempotent(t *testing.T) {
	stream := openTestStream(t, false)
	if err := stream.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
