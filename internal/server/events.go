package server

import (
	"net/http"
	"time"

	"github.com/concordhq/concord/internal/types"
)

type EventKind string

const (
	// EventCreated announces a newly committed message.
	EventCreated EventKind = "created"
	// EventUpdated announces an edit, and also a deletion: a delete is an
	// update carrying the tombstoned message, so clients apply one merge
	// path for both.
	EventUpdated EventKind = "updated"
)

// Event is a room-scoped fanout unit. It travels to websocket
// subscribers, across the redis bridge, and onto the kafka firehose in
// the same JSON form.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Room    types.RoomKey `json:"room"`
	Message types.Message `json:"message"`
	// Origin identifies the hub instance that first published the
	// event; the bridge uses it to skip echoing events back to their
	// source node.
	Origin string `json:"origin,omitempty"`
}

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a connected client. Exactly one of
// the operation fields is set.
type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	client      *Client
}

type Subscribe struct {
	Room types.RoomKey `json:"room"`
}

type Unsubscribe struct {
	Room types.RoomKey `json:"room"`
}

// ServerMessage is a frame sent to a connected client: either a response
// to a client frame (correlated by id) or a pushed room event.
type ServerMessage struct {
	BaseMessage
	Response   *Response `json:"response,omitempty"`
	Event      *Event    `json:"event,omitempty"`
	SkipClient *Client   `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
