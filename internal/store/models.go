package store

import (
	"time"

	"github.com/concordhq/concord/internal/types"
)

type Profile struct {
	Id        int
	UserId    string
	Name      string
	ImageUrl  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	Id               int
	ServerId         int
	ServerExternalId string
	ProfileId        int
	Role             types.Role
	Profile          Profile
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Server struct {
	Id         int
	ExternalId string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Channel struct {
	Id         int
	ExternalId string
	ServerId   int
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Conversation struct {
	Id          int
	ExternalId  string
	MemberOneId int
	MemberTwoId int
	CreatedAt   time.Time
}

// RoomRef is a resolved room: the internal row id behind an external
// RoomKey, plus the owning server for permission checks. Conversations
// carry the server of their first member.
type RoomRef struct {
	Kind       types.RoomKind
	Id         int
	ExternalId string
	ServerId   int
}

func (r RoomRef) Key() types.RoomKey {
	return types.RoomKey{Kind: r.Kind, Id: r.ExternalId}
}

type Message struct {
	Id             int64
	RoomKind       types.RoomKind
	RoomId         int
	RoomExternalId string
	RoomServerId   int
	MemberId       int
	Content        string
	AttachmentUrl  string
	Deleted        bool
	CorrelationId  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Author         Member
}

type CreateMessageParams struct {
	Room           RoomRef
	AuthorMemberId int
	Content        string
	AttachmentUrl  string
	CorrelationId  string
}

type CreateConversationParams struct {
	ExternalId  string
	MemberOneId int
	MemberTwoId int
}
