package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/concordhq/concord/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one websocket session. Subscriptions are ephemeral: they
// exist only while the session holds them and die with the connection.
type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	log       *log.Logger
	profile   types.Profile
	send      chan *ServerMessage
	rooms     map[types.RoomKey]*room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(profile types.Profile, conn *websocket.Conn, h *Hub, l *log.Logger) *Client {
	return &Client{
		conn:    conn,
		hub:     h,
		log:     l,
		profile: profile,
		send:    make(chan *ServerMessage, 256),
		rooms:   make(map[types.RoomKey]*room),
		stop:    make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.Subscribe != nil:
			c.subscribe(&msg)
		case msg.Unsubscribe != nil:
			c.unsubscribe(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) subscribe(msg *ClientMessage) {
	select {
	case c.hub.subscribeChan <- msg:
	default:
		c.log.Println("subscribe channel full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) unsubscribe(msg *ClientMessage) {
	r := c.getRoom(msg.Unsubscribe.Room)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leave channel full for room %q", r.key)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.hub.DeregisterChan <- c
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, r := range c.rooms {
		r.leaveChan <- &ClientMessage{
			Unsubscribe: &Unsubscribe{Room: r.key},
			client:      c,
		}
	}
}

func (c *Client) addRoom(r *room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.key] = r
}

func (c *Client) delRoom(key types.RoomKey) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, key)
}

func (c *Client) getRoom(key types.RoomKey) *room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if r, ok := c.rooms[key]; ok {
		return r
	}

	return nil
}
