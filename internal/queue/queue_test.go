package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"daycare/internal/queue"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	evt, _ := json.Marshal(queue.CheckoutEvent{OrgID: "org1", AttendanceID: "a1", ChildID: "c1"})
	if err := q.Publish(ctx, queue.Message{Type: "checkout", Body: evt}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "checkout" {
			t.Fatalf("unexpected type %q", msg.Type)
		}
		var got queue.CheckoutEvent
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if got.AttendanceID != "a1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemoryPublishRespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(0)
	cancel()
	if err := q.Publish(ctx, queue.Message{Type: "checkout"}); err == nil {
		t.Fatal("publish to a full queue with canceled context must error")
	}
}
