package queue

import (
	"context"
	"sync"
)

// memoryQueue is an in-process transport for tests and single-process runs.
// Nacked messages go back to the front of their step's backlog.
type memoryQueue struct {
	mu       sync.Mutex
	backlogs map[string][]Message
	wakeups  map[string]chan struct{}
}

func NewMemoryQueue() Queue {
	return &memoryQueue{
		backlogs: make(map[string][]Message),
		wakeups:  make(map[string]chan struct{}),
	}
}

func (q *memoryQueue) wakeup(step string) chan struct{} {
	ch, ok := q.wakeups[step]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wakeups[step] = ch
	}
	return ch
}

func (q *memoryQueue) Publish(ctx context.Context, msg Message) error {
	q.mu.Lock()
	q.backlogs[msg.Step] = append(q.backlogs[msg.Step], msg)
	ch := q.wakeup(msg.Step)
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (q *memoryQueue) Receive(ctx context.Context, step string) (*Delivery, error) {
	for {
		q.mu.Lock()
		backlog := q.backlogs[step]
		if len(backlog) > 0 {
			msg := backlog[0]
			q.backlogs[step] = backlog[1:]
			q.mu.Unlock()
			return &Delivery{
				Message: msg,
				ack:     func(context.Context) error { return nil },
				nack: func(context.Context) error {
					return q.requeue(msg)
				},
			}, nil
		}
		ch := q.wakeup(step)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (q *memoryQueue) requeue(msg Message) error {
	q.mu.Lock()
	q.backlogs[msg.Step] = append([]Message{msg}, q.backlogs[msg.Step]...)
	ch := q.wakeup(msg.Step)
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Depth reports the backlog size for a step. Test helper.
func Depth(q Queue, step string) int {
	mq, ok := q.(*memoryQueue)
	if !ok {
		return -1
	}
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.backlogs[step])
}
