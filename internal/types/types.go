package types

import (
	"time"
)

// RoomKind distinguishes the two concrete room types. A room is never
// both, merged or renamed.
type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
)

func (k RoomKind) Valid() bool {
	return k == RoomChannel || k == RoomConversation
}

// RoomKey identifies a fanout and pagination scope: exactly one concrete
// key type per room.
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

// String renders the key for routing (log lines, redis channels). It is
// not a wire format; the key travels as its two fields.
func (r RoomKey) String() string {
	return string(r.Kind) + "/" + r.Id
}

// Valid reports whether the key names a concrete room: a known kind
// and a non-empty id.
func (r RoomKey) Valid() bool {
	return r.Kind.Valid() && r.Id != ""
}

type Role string

const (
	RoleGuest     Role = "GUEST"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleGuest || r == RoleModerator || r == RoleAdmin
}

// CanModerate reports whether the role may delete other members' messages.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

type Profile struct {
	Id        int       `json:"id"`
	UserId    string    `json:"user_id"`
	Name      string    `json:"name"`
	ImageUrl  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Member is a per-server identity bound to one profile.
type Member struct {
	Id        int       `json:"id"`
	ServerId  string    `json:"server_id"`
	Role      Role      `json:"role"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Server struct {
	Id         int       `json:"-"`
	ExternalId string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Channel struct {
	Id         int       `json:"-"`
	ExternalId string    `json:"id"`
	ServerId   string    `json:"server_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Conversation struct {
	Id          int       `json:"-"`
	ExternalId  string    `json:"id"`
	MemberOneId int       `json:"member_one_id"`
	MemberTwoId int       `json:"member_two_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Message is the wire form of a chat message. A deleted message keeps its
// id, author and created_at but has content and attachment cleared.
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

// Edited reports whether the message was modified after creation.
func (m Message) Edited() bool {
	return !m.UpdatedAt.Equal(m.CreatedAt)
}

type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
