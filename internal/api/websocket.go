package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"daytrader/internal/live"
)

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
)

// Client represents a single WebSocket connection managed by a Hub.
type Client struct {
	send    chan live.FeedEvent
	channel string // empty = every channel
}

// Hub manages a set of WebSocket clients and broadcasts feed events to all
// connected clients.
type Hub struct {
	feed       *live.Feed
	origins    []string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	log        *slog.Logger
}

// NewHub creates a Hub over feed. originPatterns lists cross-origin hosts
// allowed to connect.
func NewHub(feed *live.Feed, log *slog.Logger, originPatterns ...string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		feed:       feed,
		origins:    originPatterns,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With("component", "wshub"),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run starts the Hub's main event loop and blocks until ctx is done, at
// which point every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	subID, events := h.feed.Subscribe(4096)
	defer h.feed.Unsubscribe(subID)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.count.Store(0)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
			}
		case fe, ok := <-events:
			if !ok {
				return
			}
			for client := range h.clients {
				if client.channel != "" && client.channel != fe.Channel {
					continue
				}
				select {
				case client.send <- fe:
				default:
					h.log.Warn("dropping slow websocket client")
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// ServeHTTP upgrades the connection to a WebSocket, replays the feed window
// for ?channel=, then streams live events as text messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	client := &Client{send: make(chan live.FeedEvent, clientBuffer), channel: r.URL.Query().Get("channel")}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	// Clients only receive; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	snapshot := h.feed.Snapshot(client.channel)
	sent := make(map[string]bool, len(snapshot))
	for _, fe := range snapshot {
		if err := write(ctx, conn, fe); err != nil {
			return
		}
		sent[fe.ID] = true
	}
	h.log.Info("websocket client connected", "remote", r.RemoteAddr, "channel", client.channel, "replayed", len(snapshot))

	for {
		select {
		case <-ctx.Done():
			return
		case fe, ok := <-client.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "disconnected by server")
				return
			}
			if sent[fe.ID] {
				continue
			}
			if err := write(ctx, conn, fe); err != nil {
				h.log.Debug("websocket write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, fe live.FeedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, fe.Payload)
}
