package store

import (
	"context"

	"github.com/concordhq/concord/internal/types"
)

type Repository interface {
	Ping(ctx context.Context) error
	GetProfileByUserId(ctx context.Context, userId string) (Profile, error)
	GetMemberById(ctx context.Context, memberId int) (Member, error)
	ResolveRoom(ctx context.Context, room types.RoomKey) (RoomRef, error)
	RoomMember(ctx context.Context, room RoomRef, profileId int) (Member, error)
	ServerMember(ctx context.Context, serverId, profileId int) (Member, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, id int64) (Message, error)
	UpdateMessage(ctx context.Context, id int64, requesterMemberId int, content string) (Message, error)
	DeleteMessage(ctx context.Context, id int64, requesterMemberId int) (Message, error)
	ListMessages(ctx context.Context, room RoomRef, cursor *Cursor, limit int) ([]Message, error)
	ListServersForProfile(ctx context.Context, profileId int) ([]Server, error)
	ListChannels(ctx context.Context, serverExternalId string, profileId int) ([]Channel, error)
	FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	UpdateMemberRole(ctx context.Context, memberId, requesterMemberId int, role types.Role) (Member, error)
}
