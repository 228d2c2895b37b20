package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ViewState string

const (
	ViewLoading        ViewState = "loading"
	ViewReady          ViewState = "ready"
	ViewAppendingOlder ViewState = "appendingOlder"
	ViewErrored        ViewState = "errored"
)

type PendingState string

const (
	PendingInFlight PendingState = "inflight"
	PendingFailed   PendingState = "failed"
)

// Pending is an optimistic send awaiting its echo from the event stream.
// The correlation token ties the local entry to the server-assigned
// message exactly, with no content matching.
type Pending struct {
	Token         string
	Content       string
	AttachmentUrl string
	State         PendingState
	EnqueuedAt    time.Time
}

const defaultPendingTimeout = 15 * time.Second

// RoomView is the synchronized history of one room: an ordered list of
// pages, newest first, deduplicated by message id, merged live with
// pushed events. All methods are safe for concurrent use.
type RoomView struct {
	api  *API
	room RoomKey

	// OnChange, when set, fires after every visible mutation.
	OnChange func()

	pendingTimeout time.Duration
	pageSize       int

	mu         sync.Mutex
	state      ViewState
	pages      [][]Message
	known      map[int64]struct{}
	nextCursor string
	endOfHist  bool
	pending    map[string]*Pending
}

// RoomViewOption configures a view at construction.
type RoomViewOption func(*RoomView)

// WithPageSize sets the page size requested on every history fetch.
// Zero or negative keeps the server default.
func WithPageSize(size int) RoomViewOption {
	return func(v *RoomView) {
		v.pageSize = size
	}
}

// WithPendingTimeout sets how long an optimistic entry waits for its
// echo before moving to failed.
func WithPendingTimeout(d time.Duration) RoomViewOption {
	return func(v *RoomView) {
		if d > 0 {
			v.pendingTimeout = d
		}
	}
}

func NewRoomView(api *API, room RoomKey, opts ...RoomViewOption) *RoomView {
	v := &RoomView{
		api:            api,
		room:           room,
		pendingTimeout: defaultPendingTimeout,
		state:          ViewLoading,
		known:          make(map[int64]struct{}),
		pending:        make(map[string]*Pending),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

func (v *RoomView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Load fetches the newest page. It moves the view from loading to ready,
// or to the terminal errored state if the initial fetch fails.
func (v *RoomView) Load(ctx context.Context) error {
	page, err := v.api.Messages(ctx, v.room, "", v.pageSize)
	if err != nil {
		v.mu.Lock()
		v.state = ViewErrored
		v.mu.Unlock()
		v.notify()
		return err
	}

	v.mu.Lock()
	v.pages = [][]Message{page.Items}
	v.known = make(map[int64]struct{}, len(page.Items))
	for _, m := range page.Items {
		v.known[m.Id] = struct{}{}
	}
	v.nextCursor = page.NextCursor
	v.endOfHist = page.NextCursor == ""
	v.state = ViewReady
	v.mu.Unlock()

	v.notify()
	return nil
}

// RequestOlderPage extends history backwards by one page. It is valid
// only from ready with history remaining; a fetch failure returns the
// view to ready and the error to the caller for retry.
func (v *RoomView) RequestOlderPage(ctx context.Context) error {
	v.mu.Lock()
	if v.state != ViewReady {
		state := v.state
		v.mu.Unlock()
		return fmt.Errorf("cannot page in state %q", state)
	}
	if v.endOfHist {
		v.mu.Unlock()
		return nil
	}
	cursor := v.nextCursor
	v.state = ViewAppendingOlder
	v.mu.Unlock()
	v.notify()

	page, err := v.api.Messages(ctx, v.room, cursor, v.pageSize)

	v.mu.Lock()
	v.state = ViewReady
	if err != nil {
		v.mu.Unlock()
		v.notify()
		return err
	}

	items := make([]Message, 0, len(page.Items))
	for _, m := range page.Items {
		if _, ok := v.known[m.Id]; ok {
			continue
		}
		v.known[m.Id] = struct{}{}
		items = append(items, m)
	}
	v.pages = append(v.pages, items)
	v.nextCursor = page.NextCursor
	v.endOfHist = page.NextCursor == ""
	v.mu.Unlock()

	v.notify()
	return nil
}

// MergeEvent folds a pushed event into the view. Created events prepend
// to the newest page unless the id is already known; updated events
// replace the message in place wherever it is loaded and are ignored
// otherwise.
func (v *RoomView) MergeEvent(ev Event) {
	v.mu.Lock()

	if ev.Message.CorrelationId != "" {
		if _, ok := v.pending[ev.Message.CorrelationId]; ok {
			delete(v.pending, ev.Message.CorrelationId)
		}
	}

	switch ev.Kind {
	case EventCreated:
		if _, ok := v.known[ev.Message.Id]; ok {
			v.mu.Unlock()
			return
		}
		v.known[ev.Message.Id] = struct{}{}
		if len(v.pages) == 0 {
			v.pages = [][]Message{nil}
		}
		v.pages[0] = append([]Message{ev.Message}, v.pages[0]...)
	case EventUpdated:
		if _, ok := v.known[ev.Message.Id]; !ok {
			v.mu.Unlock()
			return
		}
		for pi := range v.pages {
			for mi := range v.pages[pi] {
				if v.pages[pi][mi].Id == ev.Message.Id {
					v.pages[pi][mi] = ev.Message
				}
			}
		}
	default:
		v.mu.Unlock()
		return
	}

	v.mu.Unlock()
	v.notify()
}

// Send performs an optimistic send: the entry is visible as pending
// immediately, the write goes over HTTP, and the echo on the event
// stream reconciles it by correlation token. If no echo arrives before
// the timeout the entry moves to failed, awaiting an explicit Retry.
func (v *RoomView) Send(ctx context.Context, content, attachmentUrl string) (string, error) {
	token := uuid.NewString()

	v.mu.Lock()
	v.pending[token] = &Pending{
		Token:         token,
		Content:       content,
		AttachmentUrl: attachmentUrl,
		State:         PendingInFlight,
		EnqueuedAt:    time.Now(),
	}
	v.mu.Unlock()
	v.notify()

	v.armTimeout(token)

	if err := v.submit(ctx, token); err != nil {
		return token, err
	}

	return token, nil
}

// Retry re-submits a failed pending entry under its original token.
func (v *RoomView) Retry(ctx context.Context, token string) error {
	v.mu.Lock()
	p, ok := v.pending[token]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("no pending entry %q", token)
	}
	if p.State != PendingFailed {
		v.mu.Unlock()
		return fmt.Errorf("pending entry %q is not failed", token)
	}
	p.State = PendingInFlight
	p.EnqueuedAt = time.Now()
	v.mu.Unlock()
	v.notify()

	v.armTimeout(token)

	return v.submit(ctx, token)
}

func (v *RoomView) submit(ctx context.Context, token string) error {
	v.mu.Lock()
	p, ok := v.pending[token]
	if !ok {
		v.mu.Unlock()
		return nil
	}
	req := SendMessageRequest{
		Content:       p.Content,
		AttachmentUrl: p.AttachmentUrl,
		CorrelationId: token,
	}
	v.mu.Unlock()

	msg, err := v.api.Send(ctx, v.room, req)
	if err != nil {
		v.failPending(token)
		return err
	}

	// the echo usually wins the race; merge covers a lost event
	v.MergeEvent(Event{Kind: EventCreated, Room: v.room, Message: msg})

	v.mu.Lock()
	delete(v.pending, token)
	v.mu.Unlock()
	v.notify()

	return nil
}

func (v *RoomView) armTimeout(token string) {
	time.AfterFunc(v.pendingTimeout, func() {
		v.failPending(token)
	})
}

func (v *RoomView) failPending(token string) {
	v.mu.Lock()
	p, ok := v.pending[token]
	if !ok || p.State != PendingInFlight {
		v.mu.Unlock()
		return
	}
	p.State = PendingFailed
	v.mu.Unlock()
	v.notify()
}

// Refresh re-fetches the newest page and prepends anything missed, used
// after a reconnect when events may have been dropped.
func (v *RoomView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.state != ViewReady {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	page, err := v.api.Messages(ctx, v.room, "", v.pageSize)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if len(v.pages) == 0 {
		v.pages = [][]Message{nil}
	}
	// the fetched page is newest first; walk backwards so prepends land
	// in order
	for i := len(page.Items) - 1; i >= 0; i-- {
		m := page.Items[i]
		if _, ok := v.known[m.Id]; ok {
			continue
		}
		v.known[m.Id] = struct{}{}
		v.pages[0] = append([]Message{m}, v.pages[0]...)
	}
	v.mu.Unlock()

	v.notify()
	return nil
}

// Messages returns the merged view, newest first, with no id repeated.
func (v *RoomView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []Message
	for _, page := range v.pages {
		out = append(out, page...)
	}

	return out
}

// PendingEntries returns the optimistic entries still awaiting an echo,
// oldest first.
func (v *RoomView) PendingEntries() []Pending {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Pending, 0, len(v.pending))
	for _, p := range v.pending {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Pending) int {
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})

	return out
}

func (v *RoomView) notify() {
	if v.OnChange != nil {
		v.OnChange()
	}
}

// Attach wires the view to a connection: events merge into the view and
// a reconnect triggers a refresh. The returned function unsubscribes.
func (v *RoomView) Attach(conn *Conn) (func(), error) {
	return conn.Subscribe(v.room, Subscription{
		OnEvent: v.MergeEvent,
		OnReconnect: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			// best effort; the next page request catches the view up
			v.Refresh(ctx)
		},
	})
}
