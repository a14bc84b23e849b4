package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/live"
	"daytrader/internal/util"
)

func quotePayload(t *testing.T, symbol string) []byte {
	t.Helper()
	q := &domain.Quote{Symbol: symbol, Price: decimal.NewFromInt(10)}
	data, err := events.Encode(events.NewQuoteUpdated(q, time.Now()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func orderPayload(t *testing.T, id int64) []byte {
	t.Helper()
	o := &domain.Order{ID: id, Type: domain.OrderTypeSell, AccountID: 1, Symbol: "IBM", Quantity: decimal.NewFromInt(1)}
	data, err := events.Encode(events.NewOrderCreated(o, decimal.NullDecimal{}, time.Now()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return lis
}

func TestServeHTTPAndGRPC(t *testing.T) {
	feed := live.NewFeed(10)
	feed.Add(orderPayload(t, 1))

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "pong") })
	log := util.Discard()
	s := NewServer("unused", "unused", mux, log, live.NewRelayServer(feed, log))

	httpLis, grpcLis := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, httpLis, grpcLis) }()

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	local := live.NewFeed(10)
	_, pushed := local.Subscribe(4)
	syncCtx, stopSync := context.WithCancel(context.Background())
	synced := make(chan error, 1)
	go func() {
		synced <- live.NewRelayClient(grpcLis.Addr().String(), local, log).Sync(syncCtx, "")
	}()
	select {
	case fe := <-pushed:
		if fe.Kind != events.KindOrderCreated {
			t.Errorf("relayed kind = %s", fe.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not deliver the replay window")
	}
	stopSync()
	<-synced

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func startHub(t *testing.T, feed *live.Feed) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(feed, util.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func readEvent(t *testing.T, c *websocket.Conn) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v", typ)
	}
	ev, err := events.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return ev
}

func TestHubReplaysAndBroadcasts(t *testing.T) {
	feed := live.NewFeed(10)
	feed.Add(quotePayload(t, "AAPL"))
	feed.Add(orderPayload(t, 5))
	_, url, _ := startHub(t, feed)

	ctx := context.Background()
	c, _, err := websocket.Dial(ctx, url+"?channel="+events.ChannelOrders, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	ev := readEvent(t, c)
	if oc, ok := ev.(*events.OrderCreated); !ok || oc.OrderRef() != 5 {
		t.Fatalf("replayed = %#v", ev)
	}

	feed.Add(quotePayload(t, "MSFT"))
	feed.Add(orderPayload(t, 6))
	ev = readEvent(t, c)
	if oc, ok := ev.(*events.OrderCreated); !ok || oc.OrderRef() != 6 {
		t.Errorf("live = %#v, want order 6", ev)
	}
	c.Close(websocket.StatusNormalClosure, "")
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	feed := live.NewFeed(10)
	hub, url, stop := startHub(t, feed)

	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want 1", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}

	stop()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v), want going away", websocket.CloseStatus(err), err)
	}
	if hub.Clients() != 0 {
		t.Errorf("clients after shutdown = %d", hub.Clients())
	}
}
