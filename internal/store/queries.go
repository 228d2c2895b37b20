package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/concordhq/concord/internal/types"
)

const (
	memberCols = "mem.id, mem.server_id, s.external_id, mem.profile_id, mem.role, mem.created_at, mem.updated_at, " +
		"p.id, p.user_id, p.name, p.image_url, p.created_at, p.updated_at"

	memberJoin = "JOIN servers s ON s.id = mem.server_id JOIN profiles p ON p.id = mem.profile_id"

	messageSelect = "SELECT m.id, m.room_kind, m.room_id, " +
		"COALESCE(ch.external_id, cv.external_id, '') AS room_external_id, " +
		"COALESCE(ch.server_id, mem1.server_id, 0) AS room_server_id, " +
		"m.member_id, m.content, m.attachment_url, m.deleted, m.correlation_id, m.created_at, m.updated_at, " +
		memberCols + " " +
		"FROM messages m " +
		"JOIN members mem ON mem.id = m.member_id " +
		memberJoin + " " +
		"LEFT JOIN channels ch ON m.room_kind = 'channel' AND ch.id = m.room_id " +
		"LEFT JOIN conversations cv ON m.room_kind = 'conversation' AND cv.id = m.room_id " +
		"LEFT JOIN members mem1 ON mem1.id = cv.member_one_id"
)

func now() time.Time {
	return time.Now().UTC()
}

func scanMember(row *sql.Row) (Member, error) {
	var m Member
	err := row.Scan(
		&m.Id,
		&m.ServerId,
		&m.ServerExternalId,
		&m.ProfileId,
		&m.Role,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Profile.Id,
		&m.Profile.UserId,
		&m.Profile.Name,
		&m.Profile.ImageUrl,
		&m.Profile.CreatedAt,
		&m.Profile.UpdatedAt,
	)

	return m, err
}

func (db *PgRepository) GetProfileByUserId(ctx context.Context, userId string) (Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, name, image_url, created_at, updated_at FROM profiles "+
			"WHERE user_id = $1 LIMIT 1",
		userId,
	)

	var p Profile
	err := row.Scan(&p.Id, &p.UserId, &p.Name, &p.ImageUrl, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: profile for user %q", ErrNotFound, userId)
	}

	return p, err
}

func (db *PgRepository) GetMemberById(ctx context.Context, memberId int) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+memberCols+" FROM members mem "+memberJoin+" WHERE mem.id = $1 LIMIT 1",
		memberId,
	)

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("%w: member %d", ErrNotFound, memberId)
	}

	return m, err
}

func (db *PgRepository) ResolveRoom(ctx context.Context, room types.RoomKey) (RoomRef, error) {
	var (
		row *sql.Row
		ref = RoomRef{Kind: room.Kind}
	)

	switch room.Kind {
	case types.RoomChannel:
		row = db.conn.QueryRowContext(ctx,
			"SELECT ch.id, ch.external_id, ch.server_id FROM channels ch "+
				"WHERE ch.external_id = $1 LIMIT 1",
			room.Id,
		)
	case types.RoomConversation:
		row = db.conn.QueryRowContext(ctx,
			"SELECT c.id, c.external_id, mem.server_id FROM conversations c "+
				"JOIN members mem ON mem.id = c.member_one_id "+
				"WHERE c.external_id = $1 LIMIT 1",
			room.Id,
		)
	default:
		return RoomRef{}, fmt.Errorf("%w: unknown room kind %q", ErrValidation, room.Kind)
	}

	err := row.Scan(&ref.Id, &ref.ExternalId, &ref.ServerId)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, room.String())
	}

	return ref, err
}

// ServerMember returns the profile's member identity in a server, or
// ErrNotFound when the profile has not joined it.
func (db *PgRepository) ServerMember(ctx context.Context, serverId, profileId int) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+memberCols+" FROM members mem "+memberJoin+" "+
			"WHERE mem.server_id = $1 AND mem.profile_id = $2 LIMIT 1",
		serverId,
		profileId,
	)

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("%w: member of server %d for profile %d", ErrNotFound, serverId, profileId)
	}

	return m, err
}

// RoomMember returns the requesting profile's member identity inside the
// room: for a channel, the profile's member in the channel's server; for a
// conversation, whichever party belongs to the profile. ErrNotFound means
// the profile has no standing in the room.
func (db *PgRepository) RoomMember(ctx context.Context, room RoomRef, profileId int) (Member, error) {
	var row *sql.Row

	switch room.Kind {
	case types.RoomChannel:
		m, err := db.ServerMember(ctx, room.ServerId, profileId)
		if errors.Is(err, ErrNotFound) {
			return Member{}, fmt.Errorf("%w: room %q", ErrNotFound, room.Key().String())
		}
		return m, err
	case types.RoomConversation:
		row = db.conn.QueryRowContext(ctx,
			"SELECT "+memberCols+" FROM conversations c "+
				"JOIN members mem ON mem.id = c.member_one_id OR mem.id = c.member_two_id "+
				memberJoin+" "+
				"WHERE c.id = $1 AND mem.profile_id = $2 LIMIT 1",
			room.Id,
			profileId,
		)
	default:
		return Member{}, fmt.Errorf("%w: unknown room kind %q", ErrValidation, room.Kind)
	}

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("%w: room %q", ErrNotFound, room.Key().String())
	}

	return m, err
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	if strings.TrimSpace(params.Content) == "" && strings.TrimSpace(params.AttachmentUrl) == "" {
		return Message{}, fmt.Errorf("%w: content or attachment required", ErrValidation)
	}

	var id int64
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_kind, room_id, member_id, content, attachment_url, correlation_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id",
		string(params.Room.Kind),
		params.Room.Id,
		params.AuthorMemberId,
		params.Content,
		params.AttachmentUrl,
		params.CorrelationId,
		now(),
	).Scan(&id)
	if err != nil {
		return Message{}, err
	}

	return db.GetMessageById(ctx, id)
}

func (db *PgRepository) GetMessageById(ctx context.Context, id int64) (Message, error) {
	row := db.conn.QueryRowContext(ctx, messageSelect+" WHERE m.id = $1 LIMIT 1", id)

	var m Message
	err := row.Scan(
		&m.Id,
		&m.RoomKind,
		&m.RoomId,
		&m.RoomExternalId,
		&m.RoomServerId,
		&m.MemberId,
		&m.Content,
		&m.AttachmentUrl,
		&m.Deleted,
		&m.CorrelationId,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Author.Id,
		&m.Author.ServerId,
		&m.Author.ServerExternalId,
		&m.Author.ProfileId,
		&m.Author.Role,
		&m.Author.CreatedAt,
		&m.Author.UpdatedAt,
		&m.Author.Profile.Id,
		&m.Author.Profile.UserId,
		&m.Author.Profile.Name,
		&m.Author.Profile.ImageUrl,
		&m.Author.Profile.CreatedAt,
		&m.Author.Profile.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: message %d", ErrNotFound, id)
	}

	return m, err
}

func (db *PgRepository) UpdateMessage(ctx context.Context, id int64, requesterMemberId int, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: content cannot be empty", ErrValidation)
	}

	msg, err := db.GetMessageById(ctx, id)
	if err != nil {
		return Message{}, err
	}

	// only the original author may edit, and never after deletion
	if msg.Deleted || msg.MemberId != requesterMemberId {
		return Message{}, fmt.Errorf("%w: message %d", ErrPermission, id)
	}

	var updatedAt time.Time
	err = db.conn.QueryRowContext(ctx,
		"UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1 AND deleted = false RETURNING updated_at",
		id,
		content,
		now(),
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// deleted between the read and the write
		return Message{}, fmt.Errorf("%w: message %d", ErrPermission, id)
	}
	if err != nil {
		return Message{}, err
	}

	msg.Content = content
	msg.UpdatedAt = updatedAt
	return msg, nil
}

func (db *PgRepository) DeleteMessage(ctx context.Context, id int64, requesterMemberId int) (Message, error) {
	msg, err := db.GetMessageById(ctx, id)
	if err != nil {
		return Message{}, err
	}

	if msg.Deleted {
		// deleting a tombstone is a no-op returning the stored state
		return msg, nil
	}

	if msg.MemberId != requesterMemberId {
		requester, err := db.GetMemberById(ctx, requesterMemberId)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Message{}, fmt.Errorf("%w: message %d", ErrPermission, id)
			}
			return Message{}, err
		}

		if !requester.Role.CanModerate() || requester.ServerId != msg.RoomServerId {
			return Message{}, fmt.Errorf("%w: message %d", ErrPermission, id)
		}
	}

	var updatedAt time.Time
	err = db.conn.QueryRowContext(ctx,
		"UPDATE messages SET content = '', attachment_url = '', deleted = true, updated_at = $2 "+
			"WHERE id = $1 AND deleted = false RETURNING updated_at",
		id,
		now(),
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// lost a race with a concurrent delete; the stored tombstone wins
		return db.GetMessageById(ctx, id)
	}
	if err != nil {
		return Message{}, err
	}

	msg.Content = ""
	msg.AttachmentUrl = ""
	msg.Deleted = true
	msg.UpdatedAt = updatedAt
	return msg, nil
}

func (db *PgRepository) ListMessages(ctx context.Context, room RoomRef, cursor *Cursor, limit int) ([]Message, error) {
	limit = NormalizeLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		rows, err = db.conn.QueryContext(ctx,
			messageSelect+" WHERE m.room_kind = $1 AND m.room_id = $2 "+
				"AND (m.created_at, m.id) < ($3, $4) "+
				"ORDER BY m.created_at DESC, m.id DESC LIMIT $5",
			string(room.Kind),
			room.Id,
			cursor.CreatedAt,
			cursor.Id,
			limit,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			messageSelect+" WHERE m.room_kind = $1 AND m.room_id = $2 "+
				"ORDER BY m.created_at DESC, m.id DESC LIMIT $3",
			string(room.Kind),
			room.Id,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		err := rows.Scan(
			&m.Id,
			&m.RoomKind,
			&m.RoomId,
			&m.RoomExternalId,
			&m.RoomServerId,
			&m.MemberId,
			&m.Content,
			&m.AttachmentUrl,
			&m.Deleted,
			&m.CorrelationId,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.Author.Id,
			&m.Author.ServerId,
			&m.Author.ServerExternalId,
			&m.Author.ProfileId,
			&m.Author.Role,
			&m.Author.CreatedAt,
			&m.Author.UpdatedAt,
			&m.Author.Profile.Id,
			&m.Author.Profile.UserId,
			&m.Author.Profile.Name,
			&m.Author.Profile.ImageUrl,
			&m.Author.Profile.CreatedAt,
			&m.Author.Profile.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgRepository) ListServersForProfile(ctx context.Context, profileId int) ([]Server, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT s.id, s.external_id, s.name, s.created_at, s.updated_at FROM members mem "+
			"JOIN servers s ON s.id = mem.server_id WHERE mem.profile_id = $1 ORDER BY s.name",
		profileId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.Id, &s.ExternalId, &s.Name, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}

		servers = append(servers, s)
	}

	return servers, rows.Err()
}

func (db *PgRepository) ListChannels(ctx context.Context, serverExternalId string, profileId int) ([]Channel, error) {
	var memberId int
	err := db.conn.QueryRowContext(ctx,
		"SELECT mem.id FROM members mem JOIN servers s ON s.id = mem.server_id "+
			"WHERE s.external_id = $1 AND mem.profile_id = $2 LIMIT 1",
		serverExternalId,
		profileId,
	).Scan(&memberId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: server %q", ErrNotFound, serverExternalId)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT ch.id, ch.external_id, ch.server_id, ch.name, ch.created_at, ch.updated_at "+
			"FROM channels ch JOIN servers s ON s.id = ch.server_id "+
			"WHERE s.external_id = $1 ORDER BY ch.created_at",
		serverExternalId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.Id, &ch.ExternalId, &ch.ServerId, &ch.Name, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

func (db *PgRepository) FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	if params.MemberOneId == params.MemberTwoId {
		return Conversation{}, fmt.Errorf("%w: conversation requires two distinct members", ErrValidation)
	}

	var c Conversation
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, external_id, member_one_id, member_two_id, created_at FROM conversations "+
			"WHERE (member_one_id = $1 AND member_two_id = $2) OR (member_one_id = $2 AND member_two_id = $1) LIMIT 1",
		params.MemberOneId,
		params.MemberTwoId,
	).Scan(&c.Id, &c.ExternalId, &c.MemberOneId, &c.MemberTwoId, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, err
	}

	err = db.conn.QueryRowContext(ctx,
		"INSERT INTO conversations (external_id, member_one_id, member_two_id, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, external_id, member_one_id, member_two_id, created_at",
		params.ExternalId,
		params.MemberOneId,
		params.MemberTwoId,
		now(),
	).Scan(&c.Id, &c.ExternalId, &c.MemberOneId, &c.MemberTwoId, &c.CreatedAt)

	return c, err
}

func (db *PgRepository) UpdateMemberRole(ctx context.Context, memberId, requesterMemberId int, role types.Role) (Member, error) {
	if !role.Valid() {
		return Member{}, fmt.Errorf("%w: invalid role %q", ErrValidation, role)
	}

	requester, err := db.GetMemberById(ctx, requesterMemberId)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Member{}, fmt.Errorf("%w: member %d", ErrPermission, memberId)
		}
		return Member{}, err
	}

	target, err := db.GetMemberById(ctx, memberId)
	if err != nil {
		return Member{}, err
	}

	// role changes are admin-only, inside one server, never on yourself
	if requester.Role != types.RoleAdmin || requester.ServerId != target.ServerId || requester.Id == target.Id {
		return Member{}, fmt.Errorf("%w: member %d", ErrPermission, memberId)
	}

	var updatedAt time.Time
	err = db.conn.QueryRowContext(ctx,
		"UPDATE members SET role = $2, updated_at = $3 WHERE id = $1 RETURNING updated_at",
		memberId,
		string(role),
		now(),
	).Scan(&updatedAt)
	if err != nil {
		return Member{}, err
	}

	target.Role = role
	target.UpdatedAt = updatedAt
	return target, nil
}
