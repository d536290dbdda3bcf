package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

// DefaultSubscriberBuffer is the number of events queued per subscriber
// before further events are dropped for it.
const DefaultSubscriberBuffer = 16

// Broadcaster fans recognized commands out to gRPC subscribers. OnCommand
// never blocks: a subscriber whose queue is full misses the event.
// Subscriptions are refused with Unavailable until MarkReady is called.
type Broadcaster struct {
	log    *slog.Logger
	buffer int

	ready   atomic.Bool
	dropped atomic.Uint64

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *structpb.Struct
	closed bool
}

// NewBroadcaster returns a Broadcaster queueing buffer events per
// subscriber (DefaultSubscriberBuffer when buffer <= 0).
func NewBroadcaster(logger *slog.Logger, buffer int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		log:    logger.With("component", "broadcaster"),
		buffer: buffer,
		subs:   make(map[uint64]chan *structpb.Struct),
	}
}

// MarkReady starts accepting subscriptions.
func (b *Broadcaster) MarkReady() { b.ready.Store(true) }

// Dropped returns the number of per-subscriber deliveries skipped because a
// queue was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// OnCommand implements pipeline.Sink.
func (b *Broadcaster) OnCommand(ev recognize.Event) {
	msg, err := EventToStruct(ev)
	if err != nil {
		b.log.Error("failed to encode event", "label", ev.Label, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			b.log.Warn("subscriber queue full, event dropped", "subscriber", id, "label", ev.Label)
		}
	}
}

// Subscribe implements CommandEventsServer.
func (b *Broadcaster) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if !b.ready.Load() {
		return status.Error(codes.Unavailable, "recognizer is initializing, please retry in a moment")
	}
	id, ch, ok := b.add()
	if !ok {
		return status.Error(codes.Unavailable, "recognizer is shutting down")
	}
	defer b.remove(id)
	b.log.Debug("subscriber attached", "subscriber", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-ch:
			if !open {
				return nil
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Close ends every subscription. Later subscriptions are refused.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) add() (uint64, chan *structpb.Struct, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, false
	}
	b.nextID++
	ch := make(chan *structpb.Struct, b.buffer)
	b.subs[b.nextID] = ch
	return b.nextID, ch, true
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
