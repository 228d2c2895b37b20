package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordhq/concord/internal/stats"
	"github.com/concordhq/concord/internal/store"
	"github.com/concordhq/concord/internal/types"
)

func newOriginId() string {
	return uuid.NewString()
}

const (
	StatConnections     = "Connections"
	StatActiveRooms     = "ActiveRooms"
	StatEventsPublished = "EventsPublished"
	StatEventsDropped   = "EventsDropped"
)

const dbTimeout = 5 * time.Second

// Hub routes room events to live subscribers. It owns the room registry;
// each loaded room runs its own actor goroutine owning its subscriber
// set, so publishes into one room are serialized and every subscriber
// observes single-room causal order.
type Hub struct {
	log            *log.Logger
	db             store.Repository
	stats          stats.Provider
	origin         string
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	subscribeChan  chan *ClientMessage
	RegisterChan   chan *Client
	DeregisterChan chan *Client
	publishChan    chan *Event
	remoteChan     chan *Event
	unloadChan     chan types.RoomKey
	rooms          map[types.RoomKey]*room
	bridge         *Bridge
	firehose       *Firehose
	stop           chan struct{}
	done           chan struct{}
}

func NewHub(logger *log.Logger, db store.Repository, st stats.Provider) (*Hub, error) {
	h := &Hub{
		log:            logger,
		db:             db,
		stats:          st,
		origin:         newOriginId(),
		clients:        make(map[*Client]struct{}),
		subscribeChan:  make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		DeregisterChan: make(chan *Client),
		publishChan:    make(chan *Event, 1024),
		remoteChan:     make(chan *Event, 1024),
		unloadChan:     make(chan types.RoomKey),
		rooms:          make(map[types.RoomKey]*room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	st.RegisterMetric(StatConnections)
	st.RegisterMetric(StatActiveRooms)
	st.RegisterMetric(StatEventsPublished)
	st.RegisterMetric(StatEventsDropped)

	return h, nil
}

// RegisterClient hands a freshly upgraded websocket session to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.RegisterChan <- c
}

// AttachBridge enables cross-node fanout via redis pub/sub.
func (h *Hub) AttachBridge(b *Bridge) {
	h.bridge = b
}

// AttachFirehose enables the best-effort kafka event stream.
func (h *Hub) AttachFirehose(f *Firehose) {
	h.firehose = f
}

// Publish hands a committed message event to the fanout bus. It never
// blocks and never fails the originating write: if the queue is full the
// event is dropped and counted.
func (h *Hub) Publish(kind EventKind, room types.RoomKey, msg types.Message) {
	ev := &Event{Kind: kind, Room: room, Message: msg, Origin: h.origin}
	select {
	case h.publishChan <- ev:
		h.stats.Incr(StatEventsPublished)
	case <-h.stop:
	default:
		h.stats.Incr(StatEventsDropped)
		h.log.Printf("publish queue full, dropping %s event for room %q", kind, room)
	}
}

// DeliverRemote injects an event received from another node. Remote
// events fan out locally only; they are not re-bridged.
func (h *Hub) DeliverRemote(ev *Event) {
	select {
	case h.remoteChan <- ev:
	case <-h.stop:
	default:
		h.stats.Incr(StatEventsDropped)
		h.log.Printf("remote queue full, dropping event for room %q", ev.Room)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.subscribeChan:
			h.handleSubscribe(sub)
		case client := <-h.RegisterChan:
			h.log.Printf("adding connection for profile %q", client.profile.Name)
			h.addClient(client)
		case client := <-h.DeregisterChan:
			h.log.Printf("removing connection for profile %q", client.profile.Name)
			h.removeClient(client)
		case ev := <-h.publishChan:
			h.deliverLocal(ev)
			if h.bridge != nil {
				h.bridge.Publish(ev)
			}
			if h.firehose != nil {
				h.firehose.Send(ev)
			}
		case ev := <-h.remoteChan:
			h.deliverLocal(ev)
		case key := <-h.unloadChan:
			if r, ok := h.rooms[key]; ok {
				h.log.Printf("unloading idle room %q", key)
				delete(h.rooms, key)
				h.stats.Decr(StatActiveRooms)
				close(r.exit)
				<-r.done
			}
		case <-h.stop:
			h.log.Println("shutting down rooms")
			for key, r := range h.rooms {
				delete(h.rooms, key)
				close(r.exit)
				<-r.done
			}

			close(h.done)
			return
		}
	}
}

func (h *Hub) handleSubscribe(sub *ClientMessage) {
	key := sub.Subscribe.Room
	if !key.Valid() {
		sub.client.queueMessage(ErrInvalidMessage(sub.Id))
		return
	}

	if r, ok := h.rooms[key]; ok {
		select {
		case r.joinChan <- sub:
		default:
			h.log.Printf("join channel full on room %q", key)
			sub.client.queueMessage(ErrServiceUnavailable(sub.Id))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	ref, err := h.db.ResolveRoom(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Println("ResolveRoom:", err)
			sub.client.queueMessage(ErrInternalError(sub.Id))
			return
		}
		sub.client.queueMessage(ErrRoomNotFound(sub.Id))
		return
	}

	// a subscriber must have standing in the room
	if _, err := h.db.RoomMember(ctx, ref, sub.client.profile.Id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Println("RoomMember:", err)
			sub.client.queueMessage(ErrInternalError(sub.Id))
			return
		}
		sub.client.queueMessage(ErrRoomNotFound(sub.Id))
		return
	}

	r := newRoom(key, h)
	h.rooms[key] = r
	h.stats.Incr(StatActiveRooms)
	go r.start()

	r.joinChan <- sub
}

func (h *Hub) deliverLocal(ev *Event) {
	r, ok := h.rooms[ev.Room]
	if !ok {
		// nobody here is watching the room
		return
	}

	select {
	case r.eventChan <- ev:
	default:
		h.stats.Incr(StatEventsDropped)
		h.log.Printf("event channel full on room %q", ev.Room)
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	h.clients[c] = struct{}{}
	h.stats.Incr(StatConnections)
}

func (h *Hub) removeClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.stats.Decr(StatConnections)
	}
}

func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("received shutdown signal")

	h.clientsLock.Lock()
	for c := range h.clients {
		c.stopClient()
	}
	h.clientsLock.Unlock()

	close(h.stop)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
