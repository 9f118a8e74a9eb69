package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func decodeEnvelope(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func receive(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for envelope")
		return nil
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := New(8, nil)
	h.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })

	first := h.Subscribe(nil)
	second := h.Subscribe(nil)
	if err := h.Publish(KindMessage, map[string]string{"from": "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []*Subscriber{first, second} {
		env := decodeEnvelope(t, receive(t, sub))
		if env["type"] != "message" {
			t.Fatalf("unexpected type %v", env["type"])
		}
		if env["ts"] != "2024-01-01T00:00:00.000Z" {
			t.Fatalf("unexpected ts %v", env["ts"])
		}
		data := env["data"].(map[string]any)
		if data["from"] != "a" {
			t.Fatalf("unexpected data %v", data)
		}
	}
}

func TestSubscribeQueuesInitFirst(t *testing.T) {
	h := New(8, nil)
	first, err := h.Encode(KindInit, map[string]any{"messages": []any{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sub := h.Subscribe(first)
	_ = h.Publish(KindAgents, map[string]any{})

	if env := decodeEnvelope(t, receive(t, sub)); env["type"] != "init" {
		t.Fatalf("expected init first, got %v", env["type"])
	}
	if env := decodeEnvelope(t, receive(t, sub)); env["type"] != "agents" {
		t.Fatalf("expected agents second, got %v", env["type"])
	}
}

func TestUnsubscribeIsIdempotentAndSkipsClosed(t *testing.T) {
	h := New(8, nil)
	sub := h.Subscribe(nil)
	h.Unsubscribe(sub.ID)
	h.Unsubscribe(sub.ID)

	if sub.Open() {
		t.Fatalf("expected closed subscriber")
	}
	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected empty hub")
	}
	_ = h.Publish(KindAgents, nil)
	select {
	case msg := <-sub.Messages():
		t.Fatalf("closed subscriber received %s", msg)
	default:
	}
}

func TestSlowSubscriberIsEvictedWithoutBlockingOthers(t *testing.T) {
	h := New(1, nil)
	slow := h.Subscribe(nil)
	fast := h.Subscribe(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = h.Publish(KindMessage, i)
			<-fast.Messages()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}

	if slow.Open() || !slow.Evicted() {
		t.Fatalf("expected slow subscriber to be evicted")
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("expected done to be closed for evicted subscriber")
	}
	if !fast.Open() || fast.Evicted() {
		t.Fatalf("fast subscriber must stay connected")
	}
	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", h.SubscriberCount())
	}

	// The evicted queue still holds the one envelope that fit, nothing more.
	if env := decodeEnvelope(t, receive(t, slow)); env["data"] != float64(0) {
		t.Fatalf("unexpected queued envelope %v", env)
	}
	select {
	case msg := <-slow.Messages():
		t.Fatalf("evicted subscriber received %s", msg)
	default:
	}
}

func TestConcurrentMembershipChangesDuringPublish(t *testing.T) {
	h := New(4, nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = h.Publish(KindAgents, map[string]any{"x": 1})
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sub := h.Subscribe(nil)
				h.Unsubscribe(sub.ID)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.SubscriberCount())
	}
}
