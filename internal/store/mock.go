package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/concordhq/concord/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetProfileByUserId(ctx context.Context, userId string) (Profile, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockRepository) GetMemberById(ctx context.Context, memberId int) (Member, error) {
	args := m.Called(ctx, memberId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) ResolveRoom(ctx context.Context, room types.RoomKey) (RoomRef, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(RoomRef), args.Error(1)
}
func (m *MockRepository) ServerMember(ctx context.Context, serverId, profileId int) (Member, error) {
	args := m.Called(ctx, serverId, profileId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) RoomMember(ctx context.Context, room RoomRef, profileId int) (Member, error) {
	args := m.Called(ctx, room, profileId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessageById(ctx context.Context, id int64) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) UpdateMessage(ctx context.Context, id int64, requesterMemberId int, content string) (Message, error) {
	args := m.Called(ctx, id, requesterMemberId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) DeleteMessage(ctx context.Context, id int64, requesterMemberId int) (Message, error) {
	args := m.Called(ctx, id, requesterMemberId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessages(ctx context.Context, room RoomRef, cursor *Cursor, limit int) ([]Message, error) {
	args := m.Called(ctx, room, cursor, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) ListServersForProfile(ctx context.Context, profileId int) ([]Server, error) {
	args := m.Called(ctx, profileId)
	return args.Get(0).([]Server), args.Error(1)
}
func (m *MockRepository) ListChannels(ctx context.Context, serverExternalId string, profileId int) ([]Channel, error) {
	args := m.Called(ctx, serverExternalId, profileId)
	return args.Get(0).([]Channel), args.Error(1)
}
func (m *MockRepository) FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) UpdateMemberRole(ctx context.Context, memberId, requesterMemberId int, role types.Role) (Member, error) {
	args := m.Called(ctx, memberId, requesterMemberId, role)
	return args.Get(0).(Member), args.Error(1)
}
