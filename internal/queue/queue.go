// Package queue is the asynchronous job transport between pipeline stages.
// Delivery is at-least-once: a message stays pending until acked, and an ack
// must only follow a committed transaction.
package queue

import (
	"context"

	"github.com/google/uuid"
)

// Message is one unit of stage work: run Step against the file.
type Message struct {
	ID               uuid.UUID `json:"id"`
	CollectionFileID uuid.UUID `json:"collection_file_id"`
	Step             string    `json:"step"`
}

// Delivery is a received message plus its acknowledgment handle.
type Delivery struct {
	Message

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack marks the message processed. Callers must commit their writes first.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack returns the message for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Consumer interface {
	// Receive blocks until a message for the step is available or ctx ends.
	Receive(ctx context.Context, step string) (*Delivery, error)
}

type Queue interface {
	Publisher
	Consumer
}

// NewMessage builds a job message for one file and step.
func NewMessage(fileID uuid.UUID, step string) Message {
	return Message{ID: uuid.New(), CollectionFileID: fileID, Step: step}
}
