package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// bridgeChannel is the redis pub/sub channel all hub instances share.
// Routing stays room-keyed inside the event payload; a single channel
// keeps subscription management trivial at this scale.
const bridgeChannel = "concord:events"

// Bridge fans events out across hub instances through redis pub/sub.
// Delivery is best effort: a failed publish is logged and the local
// fanout proceeds regardless.
type Bridge struct {
	log      *log.Logger
	client   *redis.Client
	hub      *Hub
	sendChan chan *Event
	cancel   context.CancelFunc
	done     chan struct{}
	sendDone chan struct{}
}

func NewBridge(logger *log.Logger, redisURL string, h *Hub) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Bridge{
		log:      logger,
		client:   client,
		hub:      h,
		sendChan: make(chan *Event, 1024),
		done:     make(chan struct{}),
		sendDone: make(chan struct{}),
	}, nil
}

// Run starts the sender and consumes bridged events until Close. Events
// originating from this hub instance are skipped to avoid double
// delivery.
func (b *Bridge) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	sub := b.client.Subscribe(ctx, bridgeChannel)

	go b.sendLoop(ctx)

	go func() {
		defer close(b.done)
		defer sub.Close()

		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Println("bridge: unmarshal event:", err)
				continue
			}

			if ev.Origin == b.hub.origin {
				continue
			}

			b.hub.DeliverRemote(&ev)
		}
	}()
}

// sendLoop drains the outbound queue one event at a time, so events
// reach redis in the order the hub published them and remote nodes see
// same-room events in commit order.
func (b *Bridge) sendLoop(ctx context.Context) {
	defer close(b.sendDone)

	for {
		select {
		case ev := <-b.sendChan:
			payload, err := json.Marshal(ev)
			if err != nil {
				b.log.Println("bridge: marshal event:", err)
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, dbTimeout)
			if err := b.client.Publish(pubCtx, bridgeChannel, payload).Err(); err != nil {
				b.log.Printf("bridge: publish event for room %q: %v", ev.Room, err)
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues an event for the other hub instances. Called from the
// hub run loop; it never blocks. If the queue is full the event is
// dropped and counted, matching the hub's own publish path.
func (b *Bridge) Publish(ev *Event) {
	select {
	case b.sendChan <- ev:
	default:
		b.hub.stats.Incr(StatEventsDropped)
		b.log.Printf("bridge queue full, dropping event for room %q", ev.Room)
	}
}

func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
		<-b.sendDone
	}
	return b.client.Close()
}
