// Package client is a Go client for the concord realtime message core.
// It wraps the HTTP API and the websocket event stream and maintains
// per-room synchronized views of message history.
package client

import "time"

type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
)

type RoomKey struct {
	Kind RoomKind `json:"kind"`
	Id   string   `json:"id"`
}

func ChannelKey(id string) RoomKey {
	return RoomKey{Kind: RoomChannel, Id: id}
}

func ConversationKey(id string) RoomKey {
	return RoomKey{Kind: RoomConversation, Id: id}
}

func (r RoomKey) String() string {
	return string(r.Kind) + "/" + r.Id
}

type Profile struct {
	Id       int    `json:"id"`
	UserId   string `json:"user_id"`
	Name     string `json:"name"`
	ImageUrl string `json:"image_url,omitempty"`
}

type Member struct {
	Id       int     `json:"id"`
	ServerId string  `json:"server_id"`
	Role     string  `json:"role"`
	Profile  Profile `json:"profile"`
}

type Message struct {
	Id            int64     `json:"id"`
	Room          RoomKey   `json:"room"`
	MemberId      int       `json:"member_id"`
	Content       string    `json:"content"`
	AttachmentUrl string    `json:"attachment_url,omitempty"`
	Deleted       bool      `json:"deleted"`
	CorrelationId string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Author        Member    `json:"author"`
}

func (m Message) Edited() bool {
	return !m.UpdatedAt.Equal(m.CreatedAt)
}

type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event is a pushed room update. A deletion arrives as an updated event
// carrying the tombstoned message.
type Event struct {
	Kind    EventKind `json:"kind"`
	Room    RoomKey   `json:"room"`
	Message Message   `json:"message"`
}
