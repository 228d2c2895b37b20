package client

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Subscription carries the callbacks for one room subscription. OnEvent
// receives every pushed event for the room. OnReconnect fires after the
// connection is re-established so the view can refresh its newest page.
type Subscription struct {
	OnEvent     func(Event)
	OnReconnect func()
}

type clientFrame struct {
	Id          int        `json:"id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Subscribe   *roomFrame `json:"subscribe,omitempty"`
	Unsubscribe *roomFrame `json:"unsubscribe,omitempty"`
}

type roomFrame struct {
	Room RoomKey `json:"room"`
}

type serverFrame struct {
	Id       int       `json:"id,omitempty"`
	Response *response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

// Conn maintains the websocket session. It dials in the background,
// reconnects with capped exponential backoff, and re-sends all active
// subscriptions after each reconnect. Subscriptions are ephemeral on the
// server, so the client is the source of truth for what is subscribed.
type Conn struct {
	url   string
	token string
	log   *log.Logger

	// OnStateChange, when set, observes every lifecycle transition. Set
	// it before the first connect attempt reaches the server.
	OnStateChange func(ConnState)

	mu            sync.Mutex
	state         ConnState
	ws            *websocket.Conn
	subs          map[RoomKey]Subscription
	nextId        int
	connectedOnce bool

	writeMu sync.Mutex

	backoff  *backoff
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Dial starts the connection manager. It returns immediately; the
// session is established in the background.
func Dial(wsURL, token string, logger *log.Logger) *Conn {
	c := &Conn{
		url:     wsURL,
		token:   token,
		log:     logger,
		state:   StateDisconnected,
		subs:    make(map[RoomKey]Subscription),
		backoff: newBackoff(0, 0),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.run()
	return c
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	cb := c.OnStateChange
	c.mu.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}

func (c *Conn) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			c.setState(StateDisconnected)
			return
		default:
		}

		c.mu.Lock()
		reconnect := c.connectedOnce
		c.mu.Unlock()
		if reconnect {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		header := http.Header{"Authorization": []string{"Bearer " + c.token}}
		ws, resp, err := websocket.DefaultDialer.Dial(c.url, header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			c.log.Println("dial:", err)
			if !c.sleep(c.backoff.next()) {
				c.setState(StateDisconnected)
				return
			}
			continue
		}

		c.backoff.reset()

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		c.setState(StateConnected)
		c.resubscribe(reconnect)

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}
}

// resubscribe replays every active subscription onto the fresh session.
func (c *Conn) resubscribe(notify bool) {
	c.mu.Lock()
	c.connectedOnce = true
	subs := make(map[RoomKey]Subscription, len(c.subs))
	for key, sub := range c.subs {
		subs[key] = sub
	}
	c.mu.Unlock()

	for key, sub := range subs {
		if err := c.writeFrame(clientFrame{
			Id:        c.frameId(),
			Timestamp: time.Now().UTC(),
			Subscribe: &roomFrame{Room: key},
		}); err != nil {
			c.log.Printf("resubscribe %q: %v", key, err)
		}

		if notify && sub.OnReconnect != nil {
			sub.OnReconnect()
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var frame serverFrame
		if err := ws.ReadJSON(&frame); err != nil {
			select {
			case <-c.stop:
			default:
				c.log.Println("read:", err)
			}
			ws.Close()
			return
		}

		switch {
		case frame.Event != nil:
			c.dispatch(*frame.Event)
		case frame.Response != nil && frame.Response.Error != "":
			c.log.Printf("server response %d: %s", frame.Response.ResponseCode, frame.Response.Error)
		}
	}
}

func (c *Conn) dispatch(ev Event) {
	c.mu.Lock()
	sub, ok := c.subs[ev.Room]
	c.mu.Unlock()

	if ok && sub.OnEvent != nil {
		sub.OnEvent(ev)
	}
}

// Subscribe registers callbacks for a room and subscribes on the server.
// The returned function tears the subscription down: the handler is
// removed before the unsubscribe frame is sent, so no event is delivered
// after it returns.
func (c *Conn) Subscribe(room RoomKey, sub Subscription) (func(), error) {
	c.mu.Lock()
	if _, ok := c.subs[room]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %q", room)
	}
	c.subs[room] = sub
	connected := c.ws != nil
	c.mu.Unlock()

	if connected {
		if err := c.writeFrame(clientFrame{
			Id:        c.frameId(),
			Timestamp: time.Now().UTC(),
			Subscribe: &roomFrame{Room: room},
		}); err != nil {
			c.log.Printf("subscribe %q: %v", room, err)
		}
	}

	cancel := func() {
		c.mu.Lock()
		_, ok := c.subs[room]
		delete(c.subs, room)
		connected := c.ws != nil
		c.mu.Unlock()

		if ok && connected {
			if err := c.writeFrame(clientFrame{
				Id:          c.frameId(),
				Timestamp:   time.Now().UTC(),
				Unsubscribe: &roomFrame{Room: room},
			}); err != nil {
				c.log.Printf("unsubscribe %q: %v", room, err)
			}
		}
	}

	return cancel, nil
}

func (c *Conn) writeFrame(frame clientFrame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(frame)
}

func (c *Conn) frameId() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextId++
	return c.nextId
}

func (c *Conn) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-c.stop:
		return false
	}
}

// Close tears the session down and stops reconnecting.
func (c *Conn) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)

		c.mu.Lock()
		if c.ws != nil {
			c.ws.Close()
		}
		c.mu.Unlock()
	})

	<-c.done
}
