package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/argushq/argus/pkg/provider/realtime"
	"github.com/argushq/argus/pkg/provider/realtime/openai"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func waitEvent(t *testing.T, events <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return realtime.Event{}
	}
}

func TestConnect_SendsConfigThenResponseCreate(t *testing.T) {
	t.Parallel()

	type msg struct {
		Type    string `json:"type"`
		Session struct {
			Instructions string `json:"instructions"`
			Voice        string `json:"voice"`
			Tools        []struct {
				Name string `json:"name"`
			} `json:"tools"`
			InputAudioFormat string `json:"input_audio_format"`
		} `json:"session"`
	}

	got := make(chan []string, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var first msg
		readJSON(t, conn, &first)
		var second map[string]string
		readJSON(t, conn, &second)

		var seen []string
		seen = append(seen, first.Type, second["type"])
		if first.Session.Instructions != "You watch the porch." {
			seen = append(seen, "bad-instructions")
		}
		if first.Session.InputAudioFormat != "pcm16" {
			seen = append(seen, "bad-format")
		}
		if len(first.Session.Tools) != 1 || first.Session.Tools[0].Name != "take_snapshot" {
			seen = append(seen, "bad-tools")
		}
		got <- seen
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{
		Instructions: "You watch the porch.",
		Tools:        []realtime.ToolDefinition{{Name: "take_snapshot"}},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case seen := <-got:
		want := []string{"session.update", "response.create"}
		if len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
			t.Errorf("message sequence = %v, want %v", seen, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestEvents_AudioDeltaAndResponseDone(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		readJSON(t, conn, &raw) // response.create

		writeJSON(t, conn, map[string]string{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})
		writeJSON(t, conn, map[string]string{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	ev := waitEvent(t, handle.Events())
	if ev.Type != realtime.EventAudioDelta {
		t.Fatalf("first event = %v, want audio-delta", ev.Type)
	}
	if string(ev.Audio) != string(pcm) {
		t.Errorf("audio = %x, want %x", ev.Audio, pcm)
	}

	ev = waitEvent(t, handle.Events())
	if ev.Type != realtime.EventResponseDone {
		t.Fatalf("second event = %v, want response-completed", ev.Type)
	}
}

func TestEvents_ToolCallAndToolOutput(t *testing.T) {
	t.Parallel()

	outputSeen := make(chan string, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]string{
			"type":      "response.function_call_arguments.done",
			"call_id":   "call-7",
			"name":      "get_detections",
			"arguments": "{}",
		})

		// Expect conversation.item.create with the output, then response.create.
		var item struct {
			Type string `json:"type"`
			Item struct {
				CallID string `json:"call_id"`
				Output string `json:"output"`
			} `json:"item"`
		}
		readJSON(t, conn, &item)
		outputSeen <- item.Type + "/" + item.Item.CallID + "/" + item.Item.Output
		var follow map[string]string
		readJSON(t, conn, &follow)
		outputSeen <- follow["type"]
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	ev := waitEvent(t, handle.Events())
	if ev.Type != realtime.EventToolCall || ev.CallID != "call-7" || ev.Name != "get_detections" {
		t.Fatalf("unexpected tool call event: %+v", ev)
	}

	if err := handle.SendToolOutput(ev.CallID, `{"people":0}`); err != nil {
		t.Fatalf("SendToolOutput: %v", err)
	}

	select {
	case got := <-outputSeen:
		if got != `conversation.item.create/call-7/{"people":0}` {
			t.Errorf("tool output frame = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool output")
	}
	select {
	case got := <-outputSeen:
		if got != "response.create" {
			t.Errorf("follow-up frame = %q, want response.create", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for follow-up response.create")
	}
}

func TestEvents_MalformedAndUnknownIgnored(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		readJSON(t, conn, &raw)

		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]string{"type": "rate_limits.updated"})
		writeJSON(t, conn, map[string]string{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	// The garbage and unknown events must be skipped; the first delivered
	// event is the response completion.
	ev := waitEvent(t, handle.Events())
	if ev.Type != realtime.EventResponseDone {
		t.Fatalf("event = %v, want response-completed", ev.Type)
	}
}

func TestClose_IsIdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-handle.Events():
		if ok {
			// Drain any buffered event; channel must close eventually.
			for range handle.Events() {
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed after Close")
	}

	if err := handle.AppendAudio([]byte{1, 2}); err == nil {
		t.Fatal("AppendAudio after Close should error")
	}
}
