package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avenmora/kestrel/internal/transport"
	"github.com/avenmora/kestrel/internal/types"
)

// fakeConn is an in-memory live connection for tests.
type fakeConn struct {
	mu      sync.Mutex
	events  chan []byte
	notices chan transport.Notice
	sent    []transport.Command
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:  make(chan []byte, 64),
		notices: make(chan transport.Notice, 4),
	}
}

func (f *fakeConn) Events() <-chan []byte            { return f.events }
func (f *fakeConn) Notices() <-chan transport.Notice { return f.notices }
func (f *fakeConn) Close() error                     { return nil }

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cmd, ok := v.(transport.Command); ok {
		f.sent = append(f.sent, cmd)
	}
	return f.sendErr
}

func (f *fakeConn) sentCommands() []transport.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Command, len(f.sent))
	copy(out, f.sent)
	return out
}

// push delivers one raw event to the dispatcher.
func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	f.events <- data
}

// fakeHistory serves canned pages, newest-first by offset.
type fakeHistory struct {
	mu    sync.Mutex
	pages map[string][][]types.Message // channel -> pages by fetch order
	calls int
	block chan struct{} // when set, FetchPage waits on it
}

func (h *fakeHistory) FetchPage(ctx context.Context, channelID string, limit, offset int) ([]types.Message, error) {
	h.mu.Lock()
	h.calls++
	block := h.block
	pages := h.pages[channelID]
	var idx int
	// offset counts messages already fetched; one page per call in order.
	fetched := 0
	for idx = 0; idx < len(pages); idx++ {
		if fetched >= offset {
			break
		}
		fetched += len(pages[idx])
	}
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if idx >= len(pages) {
		return nil, nil
	}
	return pages[idx], nil
}

func committedMsg(id int64, channel, author, content string) types.Message {
	return types.Message{ID: id, ChannelID: channel, AuthorID: author, Content: content, CreatedAt: id}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held")
}

func newTestEngine(t *testing.T, conn *fakeConn, history *fakeHistory) *Engine {
	t.Helper()
	e := New(Options{
		Self:     types.User{ID: "me", DisplayName: "Me"},
		Conn:     conn,
		History:  history,
		PageSize: 3,
	})
	t.Cleanup(e.Close)
	return e
}

func TestLiveMessageReachesActiveSnapshot(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": committedMsg(13, "ch1", "u2", "hi"),
	})

	waitFor(t, func() bool { return len(e.Snapshot().Messages) == 1 })
	snap := e.Snapshot()
	if snap.Messages[0].ID != 13 {
		t.Errorf("message id = %d, expected 13", snap.Messages[0].ID)
	}
}

func TestInactiveChannelEventsGoToBackgroundCache(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch2",
		"message": committedMsg(7, "ch2", "u2", "psst"),
	})

	waitFor(t, func() bool { return e.UnreadCount("ch2") == 1 })
	snap := e.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("active snapshot picked up a foreign channel's message: %+v", snap.Messages)
	}
	if snap.Unread["ch2"] != 1 {
		t.Errorf("unread = %v, expected ch2:1", snap.Unread)
	}

	// Switching over finds the cached message already there.
	e.SetActive("ch2")
	snap = e.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != 7 {
		t.Errorf("cached message missing after switch: %+v", snap.Messages)
	}
}

func TestOwnMessagesNeverCountUnread(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch2",
		"message": committedMsg(8, "ch2", "me", "mine"),
	})

	waitFor(t, func() bool {
		snap := e.Snapshot()
		_, ok := snap.Unread["ch2"]
		return !ok && channelHasMessage(e, "ch2")
	})
}

func channelHasMessage(e *Engine, channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.channels[channelID]
	return ok && st.seq.Len() > 0
}

func TestTypingScopedToActiveChannel(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{"type": "typing", "channel_id": "ch1", "user_id": "u2", "display_name": "Bo", "is_typing": true})
	conn.push(t, map[string]any{"type": "typing", "channel_id": "ch2", "user_id": "u3", "display_name": "Cam", "is_typing": true})

	waitFor(t, func() bool {
		names := e.Snapshot().Typing
		return len(names) == 1 && names[0] == "Bo"
	})

	// Switching channels clears typing state synchronously.
	e.SetActive("ch2")
	if names := e.Snapshot().Typing; len(names) != 0 {
		t.Errorf("typing = %v after switch, expected cleared", names)
	}
}

func TestReadReceiptMaxMerge(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{"type": "read_receipt", "channel_id": "ch1", "user_id": "u2", "last_read_id": 50})
	conn.push(t, map[string]any{"type": "read_receipt", "channel_id": "ch1", "user_id": "u2", "last_read_id": 30})

	waitFor(t, func() bool { return e.Snapshot().Boundary.OthersReadID == 50 })
}

func TestDuplicateDeliveryCountsUnreadOnce(t *testing.T) {
	conn := newFakeConn()
	var notifyMu sync.Mutex
	notifies := 0
	e := New(Options{
		Self: types.User{ID: "me"},
		Conn: conn,
		OnUnread: func(string, types.Message) {
			notifyMu.Lock()
			notifies++
			notifyMu.Unlock()
		},
	})
	t.Cleanup(e.Close)
	e.SetActive("ch1")

	dup := map[string]any{
		"type": "new_message", "channel_id": "ch2",
		"message": committedMsg(7, "ch2", "u2", "psst"),
	}
	conn.push(t, dup)
	conn.push(t, dup)
	// A later event on the same stream proves both deliveries were handled.
	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": committedMsg(8, "ch1", "u2", "marker"),
	})
	waitFor(t, func() bool { return len(e.Snapshot().Messages) == 1 })

	if got := e.UnreadCount("ch2"); got != 1 {
		t.Errorf("unread = %d after duplicate delivery of one message, expected 1", got)
	}
	notifyMu.Lock()
	if notifies != 1 {
		t.Errorf("unread notifications = %d, expected 1", notifies)
	}
	notifyMu.Unlock()
}

func TestEventWithoutChannelIDDropped(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{"type": "message_deleted", "message_id": 42})
	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": committedMsg(5, "ch1", "u2", "ok"),
	})
	waitFor(t, func() bool { return len(e.Snapshot().Messages) == 1 })

	e.mu.Lock()
	_, phantom := e.channels[""]
	e.mu.Unlock()
	if phantom {
		t.Errorf("event without channel id allocated empty-keyed channel state")
	}
}

func TestUnknownEventsDropSilently(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{"type": "galaxy_brain", "channel_id": "ch1"})
	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": committedMsg(5, "ch1", "u2", "still alive"),
	})

	// The stream survives the unknown event and keeps processing.
	waitFor(t, func() bool { return len(e.Snapshot().Messages) == 1 })
}

func TestLoadOlderPagePagination(t *testing.T) {
	conn := newFakeConn()
	history := &fakeHistory{pages: map[string][][]types.Message{
		"ch1": {
			{committedMsg(10, "ch1", "u1", "j"), committedMsg(11, "ch1", "u1", "k"), committedMsg(12, "ch1", "u1", "l")},
			{committedMsg(8, "ch1", "u1", "h"), committedMsg(9, "ch1", "u1", "i")},
		},
	}}
	e := newTestEngine(t, conn, history)
	e.SetActive("ch1")

	more, err := e.LoadOlderPage(context.Background())
	if err != nil {
		t.Fatalf("first page failed: %v", err)
	}
	if !more {
		t.Fatalf("expected more history after a full page")
	}

	// Second page is short: end of history.
	more, err = e.LoadOlderPage(context.Background())
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if more {
		t.Errorf("expected end-of-history after a short page")
	}

	snap := e.Snapshot()
	if len(snap.Messages) != 5 || snap.Messages[0].ID != 8 || snap.Messages[4].ID != 12 {
		t.Errorf("messages = %+v, expected ids 8..12 ascending", snap.Messages)
	}
	if !snap.EndOfHistory {
		t.Errorf("snapshot does not report end of history")
	}

	// Further loads are no-ops.
	history.mu.Lock()
	calls := history.calls
	history.mu.Unlock()
	e.LoadOlderPage(context.Background())
	history.mu.Lock()
	if history.calls != calls {
		t.Errorf("fetch issued past end of history")
	}
	history.mu.Unlock()
}

func TestStaleFetchDiscardedAfterChannelSwitch(t *testing.T) {
	conn := newFakeConn()
	block := make(chan struct{})
	history := &fakeHistory{
		block: block,
		pages: map[string][][]types.Message{
			"ch1": {{committedMsg(10, "ch1", "u1", "j")}},
		},
	}
	e := newTestEngine(t, conn, history)
	e.SetActive("ch1")

	done := make(chan error, 1)
	go func() {
		_, err := e.LoadOlderPage(context.Background())
		done <- err
	}()

	// Navigate away while the fetch is in flight, then let it complete.
	waitFor(t, func() bool {
		history.mu.Lock()
		defer history.mu.Unlock()
		return history.calls == 1
	})
	e.SetActive("ch2")
	close(block)

	if err := <-done; err != nil {
		t.Fatalf("in-flight fetch errored: %v", err)
	}
	if channelHasMessage(e, "ch1") {
		t.Errorf("stale fetch result was merged after channel switch")
	}
}

func TestSendMessageOptimisticFlow(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	token, err := e.SendMessage("hello", nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Messages) != 1 || !snap.Messages[0].Pending() {
		t.Fatalf("messages = %+v, expected one pending entry", snap.Messages)
	}

	// Server echo reconciles the placeholder.
	echo := committedMsg(55, "ch1", "me", "hello")
	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": echo, "correlation": token,
	})

	waitFor(t, func() bool {
		msgs := e.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].ID == 55 && !msgs[0].Pending()
	})
}

func TestSendFailureSurfacesAndRollsBack(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = fmt.Errorf("connection down")
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	if _, err := e.SendMessage("hello", nil); err == nil {
		t.Fatalf("expected send failure to surface")
	}
	if msgs := e.Snapshot().Messages; len(msgs) != 0 {
		t.Errorf("messages = %+v, expected placeholder rolled back", msgs)
	}
}

func TestMarkChannelReadZeroesAndConfirms(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.reads.SetDebounce(5 * time.Millisecond)
	e.SetActive("ch1")

	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch2",
		"message": committedMsg(9, "ch2", "u2", "yo"),
	})
	waitFor(t, func() bool { return e.UnreadCount("ch2") == 1 })

	e.SetActive("ch2")
	e.MarkChannelRead()

	if got := e.UnreadCount("ch2"); got != 0 {
		t.Errorf("unread = %d after mark read, expected 0", got)
	}
	waitFor(t, func() bool {
		for _, cmd := range conn.sentCommands() {
			if cmd.Type == "mark_read" && cmd.ChannelID == "ch2" && cmd.LastReadID == 9 {
				return true
			}
		}
		return false
	})
}

func TestThreadClosedOnAnchorDelete(t *testing.T) {
	conn := newFakeConn()
	var closedMu sync.Mutex
	var closed []int64
	e := New(Options{
		Self: types.User{ID: "me"},
		Conn: conn,
		OnThreadClosed: func(id int64) {
			closedMu.Lock()
			closed = append(closed, id)
			closedMu.Unlock()
		},
	})
	t.Cleanup(e.Close)
	e.SetActive("ch1")

	conn.push(t, map[string]any{
		"type": "new_message", "channel_id": "ch1",
		"message": committedMsg(10, "ch1", "u2", "root"),
	})
	waitFor(t, func() bool { return len(e.Snapshot().Messages) == 1 })

	e.SetActiveThread(10)
	conn.push(t, map[string]any{"type": "message_deleted", "channel_id": "ch1", "message_id": 10})

	waitFor(t, func() bool {
		closedMu.Lock()
		defer closedMu.Unlock()
		return len(closed) == 1 && closed[0] == 10
	})
}

func TestPresenceAndMembership(t *testing.T) {
	conn := newFakeConn()
	e := newTestEngine(t, conn, nil)
	e.SetActive("ch1")

	conn.push(t, map[string]any{"type": "member_joined", "channel_id": "ch1", "user_id": "u2", "display_name": "Bo"})
	conn.push(t, map[string]any{"type": "user_presence", "channel_id": "ch1", "user_id": "u2", "online": true})
	conn.push(t, map[string]any{"type": "owner_transferred", "channel_id": "ch1", "user_id": "u2"})

	waitFor(t, func() bool {
		snap := e.Snapshot()
		return len(snap.Members) == 1 && snap.Members[0].Online && snap.OwnerID == "u2"
	})

	conn.push(t, map[string]any{"type": "member_left", "channel_id": "ch1", "user_id": "u2"})
	waitFor(t, func() bool { return len(e.Snapshot().Members) == 0 })
}
