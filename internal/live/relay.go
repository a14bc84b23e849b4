package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The relay is a single server-streaming method built on protobuf
// well-known wrapper types:
//
//	service EventRelay {
//	  rpc Stream(google.protobuf.StringValue) returns (stream google.protobuf.BytesValue);
//	}
//
// The request names a bus channel (empty = all); each response carries one
// encoded event.
const (
	relayServiceName = "daytrader.live.EventRelay"
	relayStreamName  = "Stream"
	relayMethod      = "/" + relayServiceName + "/" + relayStreamName
)

type eventRelayServer interface {
	Stream(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: relayServiceName,
	HandlerType: (*eventRelayServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    relayStreamName,
		Handler:       relayStreamHandler,
		ServerStreams: true,
	}},
	Metadata: "daytrader/live/relay.proto",
}

func relayStreamHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(eventRelayServer).Stream(req, stream)
}

// RelayServer streams a Feed to gRPC clients.
type RelayServer struct {
	feed *Feed
	log  *slog.Logger
}

// NewRelayServer creates a relay backed by feed.
func NewRelayServer(feed *Feed, log *slog.Logger) *RelayServer {
	if log == nil {
		log = slog.Default()
	}
	return &RelayServer{feed: feed, log: log.With("component", "relay")}
}

// RegisterGRPC registers the relay on gs.
func (s *RelayServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&relayServiceDesc, s)
}

// Stream sends the feed's window for the requested channel, then live
// events until the client disconnects.
func (s *RelayServer) Stream(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	channel := req.GetValue()

	// Subscribe before taking the snapshot so nothing falls in between;
	// events already sent from the snapshot are skipped.
	subID, ch := s.feed.Subscribe(4096)
	defer s.feed.Unsubscribe(subID)

	snapshot := s.feed.Snapshot(channel)
	sent := make(map[string]bool, len(snapshot))
	for _, fe := range snapshot {
		if err := stream.SendMsg(wrapperspb.Bytes(fe.Payload)); err != nil {
			return err
		}
		sent[fe.ID] = true
	}

	s.log.Info("relay client subscribed", "subID", subID, "channel", channel, "replayed", len(snapshot))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("relay client disconnected", "subID", subID)
			return nil
		case fe, ok := <-ch:
			if !ok {
				return nil
			}
			if sent[fe.ID] || (channel != "" && fe.Channel != channel) {
				continue
			}
			if err := stream.SendMsg(wrapperspb.Bytes(fe.Payload)); err != nil {
				return err
			}
		}
	}
}

// RelayClient mirrors a remote relay into a local Feed.
type RelayClient struct {
	addr string
	feed *Feed
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewRelayClient creates a client for the relay at addr. Without options
// the connection is plaintext.
func NewRelayClient(addr string, feed *Feed, log *slog.Logger, opts ...grpc.DialOption) *RelayClient {
	if log == nil {
		log = slog.Default()
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &RelayClient{addr: addr, feed: feed, opts: opts, log: log}
}

// Sync streams channel (empty = all) into the local feed. It blocks until
// ctx is cancelled or the stream ends.
func (c *RelayClient) Sync(ctx context.Context, channel string) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &relayServiceDesc.Streams[0], relayMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(wrapperspb.String(channel)); err != nil {
		return fmt.Errorf("sending stream request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing stream request: %w", err)
	}

	c.log.Info("connected to event relay", "addr", c.addr, "channel", channel)

	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		if _, err := c.feed.Add(msg.GetValue()); err != nil {
			c.log.Warn("dropping undecodable relayed event", "error", err)
		}
	}
}
