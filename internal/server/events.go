package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

// ServiceName is the gRPC service that streams recognized commands.
const ServiceName = "nupi.kws.v1.CommandEvents"

const subscribeMethod = "/" + ServiceName + "/Subscribe"

// CommandEventsServer is implemented by Broadcaster.
type CommandEventsServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

// ServiceDesc describes the CommandEvents service. Requests are
// google.protobuf.Empty and every streamed event is a google.protobuf.Struct
// with the fields written by EventToStruct.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandEventsServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "nupi/kws/v1/command_events.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CommandEventsServer).Subscribe(in, stream)
}

// EventToStruct encodes a command event for the wire.
func EventToStruct(ev recognize.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"category":     ev.Category,
		"label":        ev.Label,
		"confidence":   ev.Confidence,
		"timestamp_ms": ev.TimestampMs,
	})
}

// EventFromStruct decodes an event written by EventToStruct.
func EventFromStruct(s *structpb.Struct) (recognize.Event, error) {
	fields := s.GetFields()
	label, ok := fields["label"]
	if !ok {
		return recognize.Event{}, fmt.Errorf("server: event without label")
	}
	return recognize.Event{
		Category:    int(fields["category"].GetNumberValue()),
		Label:       label.GetStringValue(),
		Confidence:  fields["confidence"].GetNumberValue(),
		TimestampMs: int64(fields["timestamp_ms"].GetNumberValue()),
	}, nil
}

// Client subscribes to a remote CommandEvents service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// EventStream yields events from one subscription.
type EventStream struct {
	stream grpc.ClientStream
}

// Subscribe opens a subscription that lasts until ctx is cancelled or the
// server stops.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the server ends the
// stream.
func (s *EventStream) Recv() (recognize.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return recognize.Event{}, err
	}
	return EventFromStruct(msg)
}
