package server

import (
	"log"
	"sync"
	"time"

	"github.com/concordhq/concord/internal/types"
)

// idleRoomTimeout is how long a room with no subscribers stays loaded
// before the hub unloads its actor.
const idleRoomTimeout = 30 * time.Second

type room struct {
	key        types.RoomKey
	hub        *Hub
	joinChan   chan *ClientMessage
	leaveChan  chan *ClientMessage
	eventChan  chan *Event
	clients    map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
	// killTimer unloads the room when it has been empty for a while
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(key types.RoomKey, h *Hub) *room {
	return &room{
		key:       key,
		hub:       h,
		joinChan:  make(chan *ClientMessage, 256),
		leaveChan: make(chan *ClientMessage, 256),
		eventChan: make(chan *Event, 256),
		clients:   make(map[*Client]struct{}),
		log:       h.log,
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *room) start() {
	r.log.Printf("starting room %q", r.key)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case ev := <-r.eventChan:
			r.broadcast(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Event:       ev,
			})
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.key)
			r.hub.unloadChan <- r.key
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.key)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.key)
	}
	r.clientLock.Unlock()

	close(r.done)
}

func (r *room) handleJoin(join *ClientMessage) {
	// a new subscriber keeps the room alive
	r.killTimer.Stop()

	r.addClient(join.client)
	join.client.queueMessage(NoErrOK(join.Id, map[string]any{
		"room": r.key,
	}))
}

func (r *room) handleLeave(leave *ClientMessage) {
	r.removeClient(leave.client)

	if leave.Id != 0 {
		// an explicit unsubscribe gets an ack; disconnect teardown does not
		leave.client.queueMessage(NoErrOK(leave.Id, map[string]any{
			"room": r.key,
		}))
	}
}

func (r *room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		r.log.Printf("client for profile %q not found in room %q", c.profile.Name, r.key)
		return
	}

	delete(r.clients, c)
	c.delRoom(r.key)

	// last subscriber out starts the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.key)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
