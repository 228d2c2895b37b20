package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/concordhq/concord/internal/stats"
	"github.com/concordhq/concord/internal/store"
	"github.com/concordhq/concord/internal/testutil"
	"github.com/concordhq/concord/internal/types"
)

func TestBridgePublishPreservesOrder(t *testing.T) {
	h, _ := newTestHub(t, &store.MockRepository{})
	b := &Bridge{log: testutil.TestLogger(t), hub: h, sendChan: make(chan *Event, 16)}

	// a create followed by its tombstone must cross the wire in that
	// order, or remote nodes resurrect deleted content
	key := types.ChannelKey("chan-ext")
	b.Publish(&Event{Kind: EventCreated, Room: key, Message: types.Message{Id: 1}})
	b.Publish(&Event{Kind: EventUpdated, Room: key, Message: types.Message{Id: 1, Deleted: true}})

	for i, want := range []EventKind{EventCreated, EventUpdated} {
		select {
		case ev := <-b.sendChan:
			assert.Equal(t, want, ev.Kind, "expected queued events in publish order (event %d)", i)
		default:
			t.Fatalf("expected event %d queued", i)
		}
	}
}

func TestBridgePublishDropsWhenQueueFull(t *testing.T) {
	db := &store.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)

	h, err := NewHub(testutil.TestLogger(t), db, su)
	assert.NoError(t, err)

	b := &Bridge{log: testutil.TestLogger(t), hub: h, sendChan: make(chan *Event, 1)}

	key := types.ChannelKey("chan-ext")
	b.Publish(&Event{Kind: EventCreated, Room: key, Message: types.Message{Id: 1}})

	su.On("Incr", StatEventsDropped).Return().Once()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Kind: EventCreated, Room: key, Message: types.Message{Id: 2}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	su.AssertExpectations(t)
}
