package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// recordingHandler collects inbound frames.
type recordingHandler struct {
	mu      sync.Mutex
	control []string
	binary  [][]byte
}

func (h *recordingHandler) HandleControl(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.control = append(h.control, string(data))
}

func (h *recordingHandler) HandleBinary(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	h.binary = append(h.binary, cp)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.control), len(h.binary)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnRoundTrip(t *testing.T) {
	serverHandler := &recordingHandler{}
	done := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws, nil)
		// greet, then stream two audio frames
		conn.WriteControl(map[string]string{"type": "connected"})
		conn.WriteAudio([]byte{1, 2})
		conn.WriteAudio([]byte{3, 4})
		conn.Run(r.Context(), serverHandler)
		close(done)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// read the three frames the server queued
	var texts, bins int
	for i := 0; i < 3; i++ {
		msgType, _, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if msgType == websocket.MessageText {
			texts++
		} else {
			bins++
		}
	}
	if texts != 1 || bins != 2 {
		t.Errorf("expected 1 text + 2 binary, got %d/%d", texts, bins)
	}

	// client → server
	ws.Write(ctx, websocket.MessageText, []byte(`{"type":"interrupt"}`))
	ws.Write(ctx, websocket.MessageBinary, make([]byte, 960))
	ws.Close(websocket.StatusNormalClosure, "")

	<-done
	ctrl, bin := serverHandler.counts()
	if ctrl != 1 || bin != 1 {
		t.Errorf("server should have seen 1 control + 1 binary, got %d/%d", ctrl, bin)
	}
}

func TestConnWriteAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws, nil)
		conn.Close()
		if err := conn.WriteControl(map[string]string{"type": "x"}); err == nil {
			t.Error("write after close must fail")
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ws.Read(ctx) // wait for the server-side close
}

func TestClientSendReceive(t *testing.T) {
	received := make(chan []byte, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		// push one control frame at the edge
		ws.Write(ctx, websocket.MessageText, []byte(`{"type":"connected","session_id":"s1"}`))

		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer server.Close()

	handler := &recordingHandler{}
	client := NewClient(ClientConfig{URL: wsURL(server), MaxRetries: 1}, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	// wait for the pushed control frame to land
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := handler.counts(); n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n, _ := handler.counts(); n == 0 {
		t.Fatal("client never received the control frame")
	}

	if !client.TrySendControl(map[string]string{"type": "interrupt"}) {
		t.Fatal("send should succeed with a live connection")
	}
	if !client.TrySendBinary(make([]byte, 960)) {
		t.Fatal("binary send should succeed")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("server never received the client frames")
		}
	}
}

func TestClientDropOnBackpressure(t *testing.T) {
	// no Run: nothing drains the queue
	client := NewClient(ClientConfig{URL: "ws://localhost:1"}, &recordingHandler{}, nil)

	dropped := false
	for i := 0; i < outboundDepth+8; i++ {
		if !client.TrySendBinary(make([]byte, 4)) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("a full queue must drop, not block")
	}
}

func TestClientRetryBudget(t *testing.T) {
	handler := &recordingHandler{}
	client := NewClient(ClientConfig{
		URL:          "ws://127.0.0.1:1", // nothing listens here
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, handler, nil)

	err := client.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure after the retry budget")
	}
	if !strings.Contains(err.Error(), "giving up") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	client := NewClient(ClientConfig{
		URL:          "ws://x",
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}, &recordingHandler{}, nil)

	if d := client.retryDelay(0); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := client.retryDelay(3); d != 8*time.Second {
		t.Errorf("expected 8s, got %v", d)
	}
	if d := client.retryDelay(10); d != 60*time.Second {
		t.Errorf("expected the 60s cap, got %v", d)
	}
}
