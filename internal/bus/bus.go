// Package bus provides the at-least-once event bus. Every consumer group
// subscribed to a channel receives each message published on it; consumers
// sharing a group split the messages between them.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Message is one delivery of a published payload.
type Message struct {
	ID      string
	Channel string
	Payload []byte

	ack func(ctx context.Context) error
}

// Ack confirms the message was handled. Unacknowledged messages may be
// delivered again.
func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Publisher writes payloads to a logical channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber reads payloads from a logical channel under a consumer group.
// The returned channel is closed when ctx is cancelled or the bus is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel, group string) (<-chan Message, error)
}

// GroupRemover is implemented by buses whose consumer groups outlive their
// subscribers.
type GroupRemover interface {
	RemoveGroup(ctx context.Context, channel, group string) error
}

// RemoveGroup drops group from each channel when s supports it. Use it for
// groups named per process so they do not pile up across restarts.
func RemoveGroup(ctx context.Context, s Subscriber, group string, channels ...string) error {
	r, ok := s.(GroupRemover)
	if !ok {
		return nil
	}
	var errs []error
	for _, ch := range channels {
		if err := r.RemoveGroup(ctx, ch, group); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bus is a Publisher and Subscriber that owns resources.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
