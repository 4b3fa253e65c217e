package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueuePublishReceiveAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	fileID := uuid.New()
	if err := q.Publish(ctx, NewMessage(fileID, "check")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := Depth(q, "check"); got != 1 {
		t.Fatalf("depth after publish: want=1 got=%d", got)
	}

	d, err := q.Receive(ctx, "check")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.CollectionFileID != fileID {
		t.Fatalf("file id: want=%s got=%s", fileID, d.CollectionFileID)
	}
	if d.Step != "check" {
		t.Fatalf("step: want=check got=%s", d.Step)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := Depth(q, "check"); got != 0 {
		t.Fatalf("depth after ack: want=0 got=%d", got)
	}
}

func TestMemoryQueueNackRequeuesFront(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := NewMessage(uuid.New(), "check")
	second := NewMessage(uuid.New(), "check")
	if err := q.Publish(ctx, first); err != nil {
		t.Fatalf("Publish first: %v", err)
	}
	if err := q.Publish(ctx, second); err != nil {
		t.Fatalf("Publish second: %v", err)
	}

	d, err := q.Receive(ctx, "check")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.ID != first.ID {
		t.Fatalf("expected the first message first")
	}
	if err := d.Nack(ctx); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	redelivered, err := q.Receive(ctx, "check")
	if err != nil {
		t.Fatalf("Receive after nack: %v", err)
	}
	if redelivered.ID != first.ID {
		t.Fatalf("nacked message should come back before the backlog")
	}
}

func TestMemoryQueueStepsAreIndependent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if err := q.Publish(ctx, NewMessage(uuid.New(), "store")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(recvCtx, "check"); err == nil {
		t.Fatalf("expected timeout receiving from an empty step")
	}
	if got := Depth(q, "store"); got != 1 {
		t.Fatalf("store depth: want=1 got=%d", got)
	}
}

func TestMemoryQueueReceiveWakesOnPublish(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan *Delivery, 1)
	go func() {
		d, err := q.Receive(ctx, "check")
		if err != nil {
			return
		}
		got <- d
	}()

	time.Sleep(20 * time.Millisecond)
	msg := NewMessage(uuid.New(), "check")
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-got:
		if d.ID != msg.ID {
			t.Fatalf("delivered wrong message")
		}
	case <-ctx.Done():
		t.Fatalf("blocked receiver never woke up")
	}
}
