package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/concordhq/concord/internal/server"
	"github.com/concordhq/concord/internal/store"
	"github.com/concordhq/concord/internal/types"
)

type CreateMessageRequest struct {
	Content       string `json:"content"`
	AttachmentUrl string `json:"attachment_url"`
	CorrelationId string `json:"correlation_id"`
}

type UpdateMessageRequest struct {
	Content string `json:"content"`
}

type CreateConversationRequest struct {
	MemberId int `json:"member_id"`
}

type UpdateMemberRequest struct {
	Role types.Role `json:"role"`
}

func (s *ConcordApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ConcordApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// currentProfile resolves the authenticated user to their profile row.
func (s *ConcordApp) currentProfile(r *http.Request) (store.Profile, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return store.Profile{}, NewUnauthorizedError()
	}

	profile, err := s.db.GetProfileByUserId(r.Context(), userId)
	if err != nil {
		return store.Profile{}, FromStoreError(err)
	}

	return profile, nil
}

func roomKeyFromQuery(q url.Values) (types.RoomKey, bool) {
	key := types.RoomKey{
		Kind: types.RoomKind(q.Get("room_kind")),
		Id:   q.Get("room_id"),
	}
	if !key.Valid() {
		return types.RoomKey{}, false
	}

	return key, true
}

func toProfile(p store.Profile) types.Profile {
	return types.Profile{
		Id:        p.Id,
		UserId:    p.UserId,
		Name:      p.Name,
		ImageUrl:  p.ImageUrl,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toMember(m store.Member) types.Member {
	return types.Member{
		Id:        m.Id,
		ServerId:  m.ServerExternalId,
		Role:      m.Role,
		Profile:   toProfile(m.Profile),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toMessage(m store.Message) types.Message {
	return types.Message{
		Id:            m.Id,
		Room:          types.RoomKey{Kind: m.RoomKind, Id: m.RoomExternalId},
		MemberId:      m.MemberId,
		Content:       m.Content,
		AttachmentUrl: m.AttachmentUrl,
		Deleted:       m.Deleted,
		CorrelationId: m.CorrelationId,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Author:        toMember(m.Author),
	}
}

func (s *ConcordApp) getMessages(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	key, ok := roomKeyFromQuery(r.URL.Query())
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ref, err := s.db.ResolveRoom(r.Context(), key)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.RoomMember(r.Context(), ref, profile.Id); err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var cursor *store.Cursor
	if cursorStr := r.URL.Query().Get("cursor"); cursorStr != "" {
		c, err := store.DecodeCursor(cursorStr)
		if err != nil {
			errResp := FromStoreError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		cursor = &c
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}
	limit = store.NormalizeLimit(limit)

	messages, err := s.db.ListMessages(r.Context(), ref, cursor, limit)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	page := types.MessagePage{
		Items: make([]types.Message, 0, len(messages)),
	}
	for _, msg := range messages {
		page.Items = append(page.Items, toMessage(msg))
	}

	// a short page means history is exhausted, so no cursor is handed out
	if len(messages) == limit {
		last := messages[len(messages)-1]
		page.NextCursor = store.Cursor{CreatedAt: last.CreatedAt, Id: last.Id}.Encode()
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *ConcordApp) createMessage(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	key, ok := roomKeyFromQuery(r.URL.Query())
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ref, err := s.db.ResolveRoom(r.Context(), key)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.RoomMember(r.Context(), ref, profile.Id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := store.CreateMessageParams{
		Room:           ref,
		AuthorMemberId: member.Id,
		Content:        req.Content,
		AttachmentUrl:  req.AttachmentUrl,
		CorrelationId:  req.CorrelationId,
	}

	newMsg, err := s.db.CreateMessage(r.Context(), params)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.stats.Incr(StatMessagesCreated)

	msg := toMessage(newMsg)
	s.hub.Publish(server.EventCreated, msg.Room, msg)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ConcordApp) updateMessage(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, apiErr := s.messageMember(r, id, profile.Id)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	updated, err := s.db.UpdateMessage(r.Context(), id, member.Id, req.Content)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg := toMessage(updated)
	s.hub.Publish(server.EventUpdated, msg.Room, msg)

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ConcordApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, apiErr := s.messageMember(r, id, profile.Id)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	deleted, err := s.db.DeleteMessage(r.Context(), id, member.Id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a delete travels as an update carrying the tombstone
	msg := toMessage(deleted)
	s.hub.Publish(server.EventUpdated, msg.Room, msg)

	s.writeJson(w, http.StatusOK, msg)
}

// messageMember resolves the requester's membership in the room the
// message belongs to.
func (s *ConcordApp) messageMember(r *http.Request, messageId int64, profileId int) (store.Member, *ApiError) {
	msg, err := s.db.GetMessageById(r.Context(), messageId)
	if err != nil {
		return store.Member{}, FromStoreError(err)
	}

	ref := store.RoomRef{
		Kind:       msg.RoomKind,
		Id:         msg.RoomId,
		ExternalId: msg.RoomExternalId,
		ServerId:   msg.RoomServerId,
	}

	member, err := s.db.RoomMember(r.Context(), ref, profileId)
	if err != nil {
		return store.Member{}, FromStoreError(err)
	}

	return member, nil
}

func (s *ConcordApp) listServers(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	dbServers, err := s.db.ListServersForProfile(r.Context(), profile.Id)
	if err != nil {
		s.log.Println("list servers:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	servers := make([]types.Server, 0, len(dbServers))
	for _, srv := range dbServers {
		servers = append(servers, types.Server{
			ExternalId: srv.ExternalId,
			Name:       srv.Name,
			CreatedAt:  srv.CreatedAt,
			UpdatedAt:  srv.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, servers)
}

func (s *ConcordApp) listChannels(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	serverId := r.PathValue("id")
	if serverId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChannels, err := s.db.ListChannels(r.Context(), serverId, profile.Id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channels := make([]types.Channel, 0, len(dbChannels))
	for _, ch := range dbChannels {
		channels = append(channels, types.Channel{
			ExternalId: ch.ExternalId,
			ServerId:   serverId,
			Name:       ch.Name,
			CreatedAt:  ch.CreatedAt,
			UpdatedAt:  ch.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, channels)
}

func (s *ConcordApp) createConversation(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	target, err := s.db.GetMemberById(r.Context(), req.MemberId)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the caller must be a member of the same server as the target
	caller, err := s.db.ServerMember(r.Context(), target.ServerId, profile.Id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if caller.Id == target.Id {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := store.CreateConversationParams{
		ExternalId:  sid,
		MemberOneId: caller.Id,
		MemberTwoId: target.Id,
	}

	conv, err := s.db.FindOrCreateConversation(r.Context(), params)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Conversation{
		ExternalId:  conv.ExternalId,
		MemberOneId: conv.MemberOneId,
		MemberTwoId: conv.MemberTwoId,
		CreatedAt:   conv.CreatedAt,
	})
}

func (s *ConcordApp) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	memberId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !req.Role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	target, err := s.db.GetMemberById(r.Context(), memberId)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	requester, err := s.db.ServerMember(r.Context(), target.ServerId, profile.Id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.UpdateMemberRole(r.Context(), target.Id, requester.Id, req.Role)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toMember(updated))
}

func (s *ConcordApp) serveWs(w http.ResponseWriter, r *http.Request) {
	profile, apiErr := s.currentProfile(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin header
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(toProfile(profile), conn, s.hub, s.log)

	s.hub.RegisterClient(client)
	go client.Write()
	go client.Read()
}
