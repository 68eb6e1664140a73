package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ARIS2333/LLM-TTS/llm"
	"github.com/ARIS2333/LLM-TTS/player"
	"github.com/ARIS2333/LLM-TTS/session"
	"github.com/ARIS2333/LLM-TTS/sound"
	"github.com/ARIS2333/LLM-TTS/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a coordinator over mock collaborators. With block set,
// sessions play into a sink that never drains, so they stay live until
// stopped.
func newTestServer(t *testing.T, cfg session.Config, block bool) *httptest.Server {
	t.Helper()
	co := session.New(cfg, session.Collaborators{
		LLM: llm.NewMockStreamer("Hi ", "there"),
		TTS: tts.NewMockSynthesizer(),
	}, func() *player.Player {
		sink := sound.NewMemorySink()
		sink.BlockWrites = block
		return player.New(player.NewPCMDecoder(), sink, 22050, testLogger())
	}, testLogger())

	srv := httptest.NewServer(New("0", co, testLogger()).Handler())
	t.Cleanup(func() {
		http.Post(srv.URL+"/stop", "application/json", nil)
		srv.Close()
	})
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, out
}

func TestStartReturnsSessionID(t *testing.T) {
	srv := newTestServer(t, session.Config{}, true)

	resp, body := postJSON(t, srv.URL+"/start", `{"text_segments":["hello"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "started" {
		t.Fatalf("status field = %v, want started", body["status"])
	}
	if body["session_id"].(float64) != 1 {
		t.Fatalf("session_id = %v, want 1", body["session_id"])
	}
}

func TestStartEmptySegmentsIsBadRequest(t *testing.T) {
	srv := newTestServer(t, session.Config{}, false)

	resp, body := postJSON(t, srv.URL+"/start", `{"text_segments":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Fatal("missing error message")
	}
}

func TestStartInvalidJSONIsBadRequest(t *testing.T) {
	srv := newTestServer(t, session.Config{}, false)

	resp, _ := postJSON(t, srv.URL+"/start", `{"text_segments":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartConflictIsConflict(t *testing.T) {
	srv := newTestServer(t, session.Config{}, true)

	if resp, _ := postJSON(t, srv.URL+"/start", `{"text_segments":["one"]}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}
	waitStatus(t, srv.URL, func(m map[string]any) bool { return m["has_player"] == true })

	resp, _ := postJSON(t, srv.URL+"/start", `{"text_segments":["two"]}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp.StatusCode)
	}
}

func TestPreemptReplacesSession(t *testing.T) {
	srv := newTestServer(t, session.Config{Preempt: true}, true)

	postJSON(t, srv.URL+"/start", `{"text_segments":["one"]}`)
	waitStatus(t, srv.URL, func(m map[string]any) bool { return m["has_player"] == true })

	resp, body := postJSON(t, srv.URL+"/start", `{"text_segments":["two"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preempting start status = %d, want 200", resp.StatusCode)
	}
	if body["session_id"].(float64) != 2 {
		t.Fatalf("session_id = %v, want 2", body["session_id"])
	}
}

func TestStopIsIdempotent(t *testing.T) {
	srv := newTestServer(t, session.Config{}, true)

	postJSON(t, srv.URL+"/start", `{"text_segments":["one"]}`)
	waitStatus(t, srv.URL, func(m map[string]any) bool { return m["has_player"] == true })

	resp, body := postJSON(t, srv.URL+"/stop", "")
	if resp.StatusCode != http.StatusOK || body["stopped"] != true {
		t.Fatalf("first stop = %d %v", resp.StatusCode, body)
	}
	resp, body = postJSON(t, srv.URL+"/stop", "")
	if resp.StatusCode != http.StatusOK || body["stopped"] != false {
		t.Fatalf("second stop = %d %v, want 200 with stopped=false", resp.StatusCode, body)
	}

	_, status := getJSON(t, srv.URL+"/status")
	if status["state"] != "Idle" || status["has_player"] != false {
		t.Fatalf("status after stop = %v", status)
	}
}

func TestStatusIdle(t *testing.T) {
	srv := newTestServer(t, session.Config{}, false)

	resp, body := getJSON(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["state"] != "Idle" || body["has_worker"] != false {
		t.Fatalf("idle status = %v", body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, session.Config{}, false)

	resp, body := getJSON(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func waitStatus(t *testing.T, base string, cond func(map[string]any) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := getJSON(t, base+"/status")
		if cond(body) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting on /status")
}
