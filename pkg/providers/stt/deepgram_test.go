package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/orchestrator"
)

// fakeDeepgram emits an interim for every binary chunk and a final on
// CloseStream.
func fakeDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Token ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("encoding") != "linear16" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			msgType, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}

			if msgType == websocket.MessageBinary {
				resp := map[string]interface{}{
					"type":         "Results",
					"is_final":     false,
					"speech_final": false,
					"channel": map[string]interface{}{
						"alternatives": []map[string]interface{}{
							{"transcript": "hello", "confidence": 0.5},
						},
					},
				}
				data, _ := json.Marshal(resp)
				conn.Write(ctx, websocket.MessageText, data)
				continue
			}

			var ctrl map[string]string
			if err := json.Unmarshal(payload, &ctrl); err != nil {
				continue
			}
			if ctrl["type"] == "CloseStream" {
				resp := map[string]interface{}{
					"type":         "Results",
					"is_final":     true,
					"speech_final": true,
					"channel": map[string]interface{}{
						"alternatives": []map[string]interface{}{
							{"transcript": "hello world", "confidence": 0.98},
						},
					},
				}
				data, _ := json.Marshal(resp)
				conn.Write(ctx, websocket.MessageText, data)
				return
			}
		}
	}))
}

func testProvider(server *httptest.Server) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey: "test-key",
		scheme: "ws",
		host:   strings.TrimPrefix(server.URL, "http://"),
		path:   "/v1/listen",
		model:  "nova-2",
		log:    &logging.NoOpLogger{},
	}
}

func TestDeepgramSTTStream(t *testing.T) {
	server := fakeDeepgram(t)
	defer server.Close()

	d := testProvider(server)

	var mu sync.Mutex
	var events []orchestrator.TranscriptEvent

	stream, err := d.StartStream(context.Background(), orchestrator.DefaultSTTConfig(),
		func(ev orchestrator.TranscriptEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		func(err error) { t.Errorf("unexpected stream error: %v", err) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(make([]byte, 960)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stream.Finalize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 {
		t.Fatalf("expected interim + final, got %d events", len(events))
	}
	if events[0].IsFinal {
		t.Error("first event should be interim")
	}
	last := events[len(events)-1]
	if !last.IsFinal || !last.SpeechFinal || last.Text != "hello world" {
		t.Errorf("unexpected final event: %+v", last)
	}
	if last.Confidence < 0.9 {
		t.Errorf("confidence not carried: %v", last.Confidence)
	}
}

func TestDeepgramSTTDialFailure(t *testing.T) {
	d := &DeepgramSTT{
		apiKey: "k",
		scheme: "ws",
		host:   "127.0.0.1:1", // nothing listens here
		path:   "/v1/listen",
		model:  "nova-2",
		log:    &logging.NoOpLogger{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := d.StartStream(ctx, orchestrator.DefaultSTTConfig(), func(orchestrator.TranscriptEvent) {}, func(error) {})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestDeepgramSTTName(t *testing.T) {
	if NewDeepgramSTT("k", "", nil).Name() != "deepgram-stt" {
		t.Error("unexpected provider name")
	}
}
