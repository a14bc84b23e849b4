// Package live provides an in-memory feed of recent bus events with
// dedup, a replay window, and pub/sub, plus the gRPC relay that streams the
// feed to other processes.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daytrader/internal/bus"
	"daytrader/internal/events"
)

// FeedEvent is one event held by the feed, kept in its wire encoding.
type FeedEvent struct {
	ID      string
	Kind    events.Kind
	Channel string
	Time    time.Time
	Payload []byte
}

// Feed holds the most recent events in a fixed-size window, dedups by event
// ID, and fans new events out to subscribers.
type Feed struct {
	mu     sync.RWMutex
	window []FeedEvent // ring buffer
	start  int
	size   int
	seen   map[string]bool // IDs currently in the window

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan FeedEvent
}

// NewFeed creates a feed that replays up to capacity events.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Feed{
		window: make([]FeedEvent, capacity),
		seen:   make(map[string]bool, capacity),
		subs:   make(map[int]chan FeedEvent),
	}
}

// Add decodes payload and inserts it. It returns false for a duplicate.
func (f *Feed) Add(payload []byte) (bool, error) {
	ev, err := events.Decode(payload)
	if err != nil {
		return false, err
	}
	h := ev.EventHeader()
	fe := FeedEvent{
		ID:      h.ID,
		Kind:    h.Type,
		Channel: ev.Channel(),
		Time:    h.EventTime,
		Payload: append([]byte(nil), payload...),
	}

	f.mu.Lock()
	if f.seen[fe.ID] {
		f.mu.Unlock()
		return false, nil
	}
	if f.size == len(f.window) {
		delete(f.seen, f.window[f.start].ID)
		f.window[f.start] = fe
		f.start = (f.start + 1) % len(f.window)
	} else {
		f.window[(f.start+f.size)%len(f.window)] = fe
		f.size++
	}
	f.seen[fe.ID] = true
	f.mu.Unlock()

	// Notify subscribers (non-blocking send).
	f.subsMu.Lock()
	for _, ch := range f.subs {
		select {
		case ch <- fe:
		default:
			// Slow subscriber, drop event.
		}
	}
	f.subsMu.Unlock()
	return true, nil
}

// Snapshot returns the window oldest first, filtered to channel. An empty
// channel matches every channel.
func (f *Feed) Snapshot(channel string) []FeedEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FeedEvent, 0, f.size)
	for i := 0; i < f.size; i++ {
		fe := f.window[(f.start+i)%len(f.window)]
		if channel == "" || fe.Channel == channel {
			out = append(out, fe)
		}
	}
	return out
}

// Len returns the number of events in the window.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// Subscribe creates a new subscription channel for live events.
func (f *Feed) Subscribe(bufSize int) (id int, ch <-chan FeedEvent) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	id = f.nextSubID
	f.nextSubID++
	c := make(chan FeedEvent, bufSize)
	f.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// Pump copies every message on the given bus channels into the feed under
// consumer group until ctx is done. Each process should use its own group
// so it sees every event.
func (f *Feed) Pump(ctx context.Context, sub bus.Subscriber, group string, log *slog.Logger, channels ...string) error {
	if log == nil {
		log = slog.Default()
	}
	var wg sync.WaitGroup
	for _, name := range channels {
		msgs, err := sub.Subscribe(ctx, name, group)
		if err != nil {
			return fmt.Errorf("subscribing feed to %s: %w", name, err)
		}
		wg.Add(1)
		go func(name string, msgs <-chan bus.Message) {
			defer wg.Done()
			for msg := range msgs {
				if _, err := f.Add(msg.Payload); err != nil {
					log.Warn("dropping undecodable event", "channel", name, "messageId", msg.ID, "error", err)
				}
				if err := msg.Ack(ctx); err != nil && ctx.Err() == nil {
					log.Warn("feed ack failed", "channel", name, "messageId", msg.ID, "error", err)
				}
			}
		}(name, msgs)
	}
	wg.Wait()
	return nil
}
