package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var (
	_ Bus          = (*RedisBus)(nil)
	_ GroupRemover = (*RedisBus)(nil)
)

const payloadField = "payload"

// RedisOptions tunes the Redis Streams bus.
type RedisOptions struct {
	Prefix    string        // stream key prefix, e.g. "daytrader"
	MaxLen    int64         // approximate stream cap, 0 = unbounded
	Block     time.Duration // XREADGROUP block time
	ClaimIdle time.Duration // pending messages idle this long are reclaimed
	Batch     int64         // messages per read
	Consumer  string        // consumer name; random when empty
}

// RedisBus implements Bus on Redis Streams. Each channel is a stream, each
// group a consumer group. Messages stay pending until acknowledged and are
// reclaimed from stalled consumers after ClaimIdle.
type RedisBus struct {
	rdb  *redis.Client
	opts RedisOptions
	log  *slog.Logger
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisBus wraps an existing client.
func NewRedisBus(rdb *redis.Client, opts RedisOptions, log *slog.Logger) *RedisBus {
	if opts.Prefix == "" {
		opts.Prefix = "daytrader"
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 16
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-" + uuid.NewString()
	}
	return &RedisBus{rdb: rdb, opts: opts, log: log.With("component", "redis-bus")}
}

func (b *RedisBus) stream(channel string) string {
	return b.opts.Prefix + ":" + channel
}

// Publish appends payload to the channel's stream.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: b.stream(channel),
		Values: map[string]any{payloadField: payload},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
		args.Approx = true
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// Subscribe creates group on the channel's stream if needed, starting at new
// messages, and streams deliveries until ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, channel, group string) (<-chan Message, error) {
	stream := b.stream(channel)
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating group %s on %s: %w", group, stream, err)
	}

	out := make(chan Message)
	go b.consume(ctx, channel, stream, group, out)
	return out, nil
}

func (b *RedisBus) consume(ctx context.Context, channel, stream, group string, out chan<- Message) {
	defer close(out)
	log := b.log.With("stream", stream, "group", group)

	deliver := func(msgs []redis.XMessage) bool {
		for _, xm := range msgs {
			msg, err := b.toMessage(channel, stream, group, xm)
			if err != nil {
				// Unreadable entries would be reclaimed forever; ack and drop.
				log.Warn("dropping malformed stream entry", "id", xm.ID, "error", err)
				_ = b.rdb.XAck(ctx, stream, group, xm.ID).Err()
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	lastClaim := time.Time{}
	backoff := 100 * time.Millisecond
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= b.opts.ClaimIdle {
			lastClaim = time.Now()
			claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    group,
				Consumer: b.opts.Consumer,
				MinIdle:  b.opts.ClaimIdle,
				Start:    "0-0",
				Count:    b.opts.Batch,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn("reclaiming pending messages", "error", err)
			}
			if len(claimed) > 0 {
				log.Info("reclaimed pending messages", "count", len(claimed))
				if !deliver(claimed) {
					return
				}
			}
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.opts.Consumer,
			Streams:  []string{stream, ">"},
			Count:    b.opts.Batch,
			Block:    b.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("reading stream", "error", err, "retryIn", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond
		for _, s := range streams {
			if !deliver(s.Messages) {
				return
			}
		}
	}
}

func (b *RedisBus) toMessage(channel, stream, group string, xm redis.XMessage) (Message, error) {
	raw, ok := xm.Values[payloadField]
	if !ok {
		return Message{}, fmt.Errorf("missing %q field", payloadField)
	}
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return Message{}, fmt.Errorf("unexpected payload type %T", raw)
	}
	id := xm.ID
	return Message{
		ID:      id,
		Channel: channel,
		Payload: payload,
		ack: func(ctx context.Context) error {
			return b.rdb.XAck(ctx, stream, group, id).Err()
		},
	}, nil
}

// RemoveGroup destroys group on the channel's stream along with its
// pending entries.
func (b *RedisBus) RemoveGroup(ctx context.Context, channel, group string) error {
	stream := b.stream(channel)
	if err := b.rdb.XGroupDestroy(ctx, stream, group).Err(); err != nil {
		return fmt.Errorf("destroying group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Close closes the underlying client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
