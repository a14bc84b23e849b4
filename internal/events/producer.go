package events

import (
	"context"
	"fmt"
)

// Publisher is the byte-level side of the bus that a Producer writes to.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Producer encodes events and publishes each on its logical channel.
type Producer struct {
	pub Publisher
}

// NewProducer creates a Producer writing to pub.
func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// Emit encodes e and publishes it on e.Channel().
func (p *Producer) Emit(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := p.pub.Publish(ctx, e.Channel(), data); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", e.EventHeader().Type, e.Channel(), err)
	}
	return nil
}
