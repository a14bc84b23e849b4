package live

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"daytrader/internal/bus"
	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/util"
)

func quotePayload(t *testing.T, symbol, price string) []byte {
	t.Helper()
	q := &domain.Quote{Symbol: symbol, Price: decimal.RequireFromString(price)}
	data, err := events.Encode(events.NewQuoteUpdated(q, time.Now()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func orderPayload(t *testing.T, id int64) []byte {
	t.Helper()
	o := &domain.Order{ID: id, Type: domain.OrderTypeBuy, AccountID: 1, Symbol: "AAPL", Quantity: decimal.NewFromInt(1)}
	data, err := events.Encode(events.NewOrderCreated(o, decimal.NullDecimal{}, time.Now()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestFeedDedupAndWindow(t *testing.T) {
	f := NewFeed(3)
	first := quotePayload(t, "A", "1")

	if added, err := f.Add(first); err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	if added, _ := f.Add(first); added {
		t.Error("duplicate event was added")
	}
	for _, sym := range []string{"B", "C", "D"} {
		f.Add(quotePayload(t, sym, "1"))
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}

	snap := f.Snapshot("")
	var got []string
	for _, fe := range snap {
		ev, _ := events.Decode(fe.Payload)
		got = append(got, ev.(*events.QuoteUpdated).Symbol)
	}
	if len(got) != 3 || got[0] != "B" || got[2] != "D" {
		t.Errorf("window = %v, want [B C D]", got)
	}

	// The evicted event is no longer remembered.
	if added, _ := f.Add(first); !added {
		t.Error("event evicted from the window should be accepted again")
	}
	if _, err := f.Add([]byte("{}")); err == nil {
		t.Error("Add accepted an event without eventType")
	}
}

func TestFeedSnapshotFilterAndSubscribe(t *testing.T) {
	f := NewFeed(10)
	id, ch := f.Subscribe(4)
	f.Add(quotePayload(t, "A", "1"))
	f.Add(orderPayload(t, 7))

	if n := len(f.Snapshot(events.ChannelOrders)); n != 1 {
		t.Errorf("orders snapshot = %d, want 1", n)
	}
	if n := len(f.Snapshot(events.ChannelQuotes)); n != 1 {
		t.Errorf("quotes snapshot = %d, want 1", n)
	}

	fe := <-ch
	if fe.Kind != events.KindQuoteUpdated {
		t.Errorf("first pushed kind = %s", fe.Kind)
	}
	fe = <-ch
	if fe.Kind != events.KindOrderCreated || fe.Channel != events.ChannelOrders {
		t.Errorf("second pushed = %s on %s", fe.Kind, fe.Channel)
	}

	f.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel not closed after Unsubscribe")
	}
}

func TestFeedPump(t *testing.T) {
	b := bus.NewMemoryBus(8)
	defer b.Close()
	f := NewFeed(10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	_, ch := f.Subscribe(4)

	// Subscribe the pump before publishing.
	pumpReady := make(chan struct{})
	go func() {
		close(pumpReady)
		done <- f.Pump(ctx, b, "feed", util.Discard(), events.ChannelQuotes)
	}()
	<-pumpReady

	payload := quotePayload(t, "AAPL", "175.50")
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	// The subscription may not be live on the first publish; retry until
	// the event lands (the feed dedups repeats).
loop:
	for {
		if err := b.Publish(ctx, events.ChannelQuotes, payload); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case <-ch:
			break loop
		case <-tick.C:
		case <-deadline:
			t.Fatal("pump did not deliver the event")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Pump: %v", err)
	}
	if f.Len() != 1 {
		t.Errorf("Len = %d, want 1", f.Len())
	}
}

func startRelay(t *testing.T, feed *Feed) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewRelayServer(feed, util.Discard()).RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)
	return lis
}

func TestRelayReplaysAndStreams(t *testing.T) {
	server := NewFeed(10)
	server.Add(orderPayload(t, 1))
	server.Add(quotePayload(t, "AAPL", "100"))
	lis := startRelay(t, server)

	local := NewFeed(10)
	_, pushed := local.Subscribe(8)
	client := NewRelayClient("passthrough:///bufnet", local, util.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Sync(ctx, events.ChannelOrders) }()

	wait := func() FeedEvent {
		t.Helper()
		select {
		case fe := <-pushed:
			return fe
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for relayed event")
		}
		return FeedEvent{}
	}

	if fe := wait(); fe.Kind != events.KindOrderCreated {
		t.Fatalf("replayed kind = %s, want OrderCreated", fe.Kind)
	}

	// A quote is filtered out by the channel; the next order arrives live.
	server.Add(quotePayload(t, "MSFT", "400"))
	server.Add(orderPayload(t, 2))
	fe := wait()
	ev, err := events.DecodeOrderEvent(fe.Payload)
	if err != nil {
		t.Fatalf("DecodeOrderEvent: %v", err)
	}
	if ev.OrderRef() != 2 {
		t.Errorf("live order = %d, want 2", ev.OrderRef())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sync: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
	if n := len(local.Snapshot(events.ChannelQuotes)); n != 0 {
		t.Errorf("local quotes = %d, want 0", n)
	}
}
