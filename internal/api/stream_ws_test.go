package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/collabhub/internal/hub"
	"github.com/flitsinc/collabhub/internal/testutil"
)

type fakeWSWriter struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (f *fakeWSWriter) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeWSWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestPumpEnvelopesStopsOnUnsubscribe(t *testing.T) {
	h := hub.New(8, nil)
	first, _ := h.Encode(hub.KindInit, map[string]any{})
	sub := h.Subscribe(first)

	writer := &fakeWSWriter{}
	done := make(chan error, 1)
	go func() { done <- pumpEnvelopes(context.Background(), sub, writer) }()

	_ = h.Publish(hub.KindAgents, map[string]any{})
	deadline := time.Now().Add(2 * time.Second)
	for writer.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for writes")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.Unsubscribe(sub.ID)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop")
	}
}

func TestPumpEnvelopesReturnsWriteError(t *testing.T) {
	h := hub.New(8, nil)
	first, _ := h.Encode(hub.KindInit, map[string]any{})
	sub := h.Subscribe(first)
	boom := errors.New("peer gone")

	err := pumpEnvelopes(context.Background(), sub, &fakeWSWriter{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestWebSocketInitThenDeltas(t *testing.T) {
	server, path := newTestServer(t, fixture...)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	env := readEnvelope(t, ctx, conn)
	if env["type"] != "init" {
		t.Fatalf("expected init, got %v", env["type"])
	}
	data := env["data"].(map[string]any)
	if msgs := data["messages"].([]any); len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	agents := data["agents"].(map[string]any)
	if agents["clawbot"].(map[string]any)["status"] != "thinking" {
		t.Fatalf("detection did not run on connect: %v", agents)
	}

	testutil.AppendLines(t, path, `{"from":"claude_code","to":"clawbot","message":"next","session_id":"sess_3"}`)
	if _, err := server.Engine.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	for _, want := range []string{"message", "sessions", "agents"} {
		if env := readEnvelope(t, ctx, conn); env["type"] != want {
			t.Fatalf("expected %s, got %v", want, env["type"])
		}
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(2 * time.Second)
	for server.Engine.Hub().SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketClosesLaggingSubscriber(t *testing.T) {
	server, path := newTestServerWithBuffer(t, 4)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if env := readEnvelope(t, ctx, conn); env["type"] != "init" {
		t.Fatalf("expected init, got %v", env["type"])
	}

	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf(`{"from":"clawbot","to":"claude_code","message":"m%d"}`, i))
	}
	testutil.AppendLines(t, path, lines...)
	if _, err := server.Engine.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusTryAgainLater {
			t.Fatalf("expected try-again close, got %v (%v)", status, err)
		}
		break
	}
	if n := server.Engine.Hub().SubscriberCount(); n != 0 {
		t.Fatalf("expected lagging subscriber removed, got %d", n)
	}
}
