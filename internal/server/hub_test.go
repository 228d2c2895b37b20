package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/concordhq/concord/internal/stats"
	"github.com/concordhq/concord/internal/store"
	"github.com/concordhq/concord/internal/testutil"
	"github.com/concordhq/concord/internal/types"
)

func newTestHub(t *testing.T, db store.Repository) (*Hub, *stats.MockStatsUpdater) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	h, err := NewHub(testutil.TestLogger(t), db, su)
	if err != nil {
		t.Fatalf("failed to create test hub: %v", err)
	}
	return h, su
}

func testProfile(id int) types.Profile {
	return types.Profile{Id: id, UserId: fmt.Sprintf("user-%d", id), Name: fmt.Sprintf("profile-%d", id)}
}

func subscribeClient(t *testing.T, h *Hub, c *Client, key types.RoomKey) {
	t.Helper()

	h.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Room: key},
		client:      c,
	}

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Response, "expected an ack response") {
			assert.Equal(t, 200, msg.Response.ResponseCode, "expected subscription to be acked")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe ack")
	}
}

func TestNewHub(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return().Times(4)

	h, err := NewHub(testutil.TestLogger(t), db, su)
	assert.NoError(t, err, "expected no error creating hub")
	assert.NotNil(t, h)
	assert.NotEmpty(t, h.origin, "expected an origin id")
	assert.NotNil(t, h.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, h.subscribeChan)
	assert.NotNil(t, h.publishChan)
	assert.NotNil(t, h.remoteChan)
}

func TestSubscribeLoadsRoom(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("chan-ext")
	ref := store.RoomRef{Kind: types.RoomChannel, Id: 7, ExternalId: "chan-ext", ServerId: 3}

	db.On("ResolveRoom", mock.Anything, key).Return(ref, nil).Once()
	db.On("RoomMember", mock.Anything, ref, 1).Return(store.Member{Id: 5, ServerId: 3}, nil).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	subscribeClient(t, h, c, key)
}

func TestSubscribeUnknownRoom(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("gone")
	db.On("ResolveRoom", mock.Anything, key).
		Return(store.RoomRef{}, fmt.Errorf("%w: room", store.ErrNotFound)).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	h.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Room: key},
		client:      c,
	}

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Response) {
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected room not found")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestSubscribeInvalidRoomKey(t *testing.T) {
	// the key never reaches the store
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	h.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Room: types.RoomKey{Kind: "dm", Id: "x"}},
		client:      c,
	}

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Response) {
			assert.Equal(t, 400, msg.Response.ResponseCode, "expected an invalid key rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ConversationKey("conv-ext")
	ref := store.RoomRef{Kind: types.RoomConversation, Id: 9, ExternalId: "conv-ext", ServerId: 3}

	db.On("ResolveRoom", mock.Anything, key).Return(ref, nil).Once()
	db.On("RoomMember", mock.Anything, ref, 1).
		Return(store.Member{}, fmt.Errorf("%w: room", store.ErrNotFound)).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	h.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Room: key},
		client:      c,
	}

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Response) {
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected outsiders to see not found")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestPublishPreservesRoomOrder(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("chan-ext")
	ref := store.RoomRef{Kind: types.RoomChannel, Id: 7, ExternalId: "chan-ext", ServerId: 3}

	db.On("ResolveRoom", mock.Anything, key).Return(ref, nil).Once()
	db.On("RoomMember", mock.Anything, ref, 1).Return(store.Member{Id: 5}, nil).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	subscribeClient(t, h, c, key)

	const n = 50
	for i := 1; i <= n; i++ {
		h.Publish(EventCreated, key, types.Message{Id: int64(i), Room: key})
	}

	for i := 1; i <= n; i++ {
		select {
		case msg := <-c.send:
			if assert.NotNil(t, msg.Event, "expected an event frame") {
				assert.Equal(t, int64(i), msg.Event.Message.Id, "expected events in publish order")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	// nobody subscribed: must not block or error
	h.Publish(EventCreated, types.ChannelKey("empty"), types.Message{Id: 1})
}

func TestDeliverRemote(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("chan-ext")
	ref := store.RoomRef{Kind: types.RoomChannel, Id: 7, ExternalId: "chan-ext", ServerId: 3}

	db.On("ResolveRoom", mock.Anything, key).Return(ref, nil).Once()
	db.On("RoomMember", mock.Anything, ref, 1).Return(store.Member{Id: 5}, nil).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	subscribeClient(t, h, c, key)

	h.DeliverRemote(&Event{Kind: EventUpdated, Room: key, Message: types.Message{Id: 7, Deleted: true}, Origin: "other-node"})

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Event) {
			assert.Equal(t, EventUpdated, msg.Event.Kind)
			assert.True(t, msg.Event.Message.Deleted, "expected the tombstone to come through")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote event")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", StatEventsPublished).Return().Maybe()

	h, err := NewHub(testutil.TestLogger(t), db, su)
	assert.NoError(t, err)

	// the hub is not running, so the queue fills and the excess publish
	// must return immediately instead of blocking the writer
	key := types.ChannelKey("chan-ext")
	for i := 0; i < cap(h.publishChan); i++ {
		h.Publish(EventCreated, key, types.Message{Id: int64(i)})
	}

	su.On("Incr", StatEventsDropped).Return().Once()

	done := make(chan struct{})
	go func() {
		h.Publish(EventCreated, key, types.Message{Id: 9999})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	su.AssertExpectations(t)
}

func TestShutdownUnloadsRooms(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("chan-ext")
	ref := store.RoomRef{Kind: types.RoomChannel, Id: 7, ExternalId: "chan-ext", ServerId: 3}

	db.On("ResolveRoom", mock.Anything, key).Return(ref, nil).Once()
	db.On("RoomMember", mock.Anything, ref, 1).Return(store.Member{Id: 5}, nil).Once()

	h, _ := newTestHub(t, db)
	go h.Run()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	subscribeClient(t, h, c, key)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.Shutdown(ctx), "expected a clean shutdown")
	assert.Empty(t, h.rooms, "expected all rooms unloaded")
}

func TestShutdownHonorsContext(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	h, _ := newTestHub(t, db)
	// Run was never started, so done never closes

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventCarriesOrigin(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	h, _ := newTestHub(t, db)

	h.Publish(EventCreated, types.ChannelKey("chan-ext"), types.Message{Id: 1})

	select {
	case ev := <-h.publishChan:
		assert.Equal(t, h.origin, ev.Origin, "expected locally published events to carry this node's origin")
	default:
		t.Fatal("expected a queued event")
	}
}

var errDb = errors.New("db down")

func TestSubscribeDbError(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	key := types.ChannelKey("chan-ext")
	db.On("ResolveRoom", mock.Anything, key).Return(store.RoomRef{}, errDb).Once()

	h, _ := newTestHub(t, db)
	go h.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	}()

	c := NewClient(testProfile(1), nil, h, testutil.TestLogger(t))
	h.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{Room: key},
		client:      c,
	}

	select {
	case msg := <-c.send:
		if assert.NotNil(t, msg.Response) {
			assert.Equal(t, 500, msg.Response.ResponseCode, "expected an internal error response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}
