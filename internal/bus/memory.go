package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Compile-time interface check.
var (
	_ Bus          = (*MemoryBus)(nil)
	_ GroupRemover = (*MemoryBus)(nil)
)

// MemoryBus is an in-process Bus. Publish blocks while an active group's
// buffer is full, so no message is dropped for a group with a live
// subscriber. Groups without active subscribers are skipped.
type MemoryBus struct {
	bufSize int
	seq     atomic.Int64

	mu       sync.Mutex
	channels map[string]map[string]*memGroup
	done     chan struct{}
	closed   bool
}

type memGroup struct {
	queue  chan Message
	active atomic.Int32
}

// NewMemoryBus creates a MemoryBus whose per-group buffers hold bufSize
// messages.
func NewMemoryBus(bufSize int) *MemoryBus {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &MemoryBus{
		bufSize:  bufSize,
		channels: make(map[string]map[string]*memGroup),
		done:     make(chan struct{}),
	}
}

// Publish delivers payload to every group with an active subscriber.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	groups := make([]*memGroup, 0, len(b.channels[channel]))
	for _, g := range b.channels[channel] {
		if g.active.Load() > 0 {
			groups = append(groups, g)
		}
	}
	b.mu.Unlock()

	msg := Message{
		ID:      strconv.FormatInt(b.seq.Add(1), 10),
		Channel: channel,
		Payload: payload,
	}
	for _, g := range groups {
		select {
		case g.queue <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		}
	}
	return nil
}

// Subscribe joins group on channel, creating the group if needed.
func (b *MemoryBus) Subscribe(ctx context.Context, channel, group string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	groups, ok := b.channels[channel]
	if !ok {
		groups = make(map[string]*memGroup)
		b.channels[channel] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &memGroup{queue: make(chan Message, b.bufSize)}
		groups[group] = g
	}
	g.active.Add(1)
	b.mu.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		defer g.active.Add(-1)
		for {
			select {
			case msg := <-g.queue:
				select {
				case out <- msg:
				case <-ctx.Done():
					// Hand the message back for another member of the group.
					select {
					case g.queue <- msg:
					default:
					}
					return
				case <-b.done:
					return
				}
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}()
	return out, nil
}

// RemoveGroup forgets group on channel. Messages still buffered for it are
// discarded.
func (b *MemoryBus) RemoveGroup(_ context.Context, channel, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels[channel], group)
	return nil
}

// Close stops all subscriptions. Further publishes fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
