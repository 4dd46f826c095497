// Package engine wires the channel synchronization pieces into one session:
// a single dispatcher consumes decoded live events and routes them by
// channel id, per-channel reducers own their canonical sequences, and the
// unread/typing stores are constructor-injected rather than ambient globals.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/avenmora/kestrel/internal/event"
	"github.com/avenmora/kestrel/internal/outbox"
	"github.com/avenmora/kestrel/internal/reads"
	"github.com/avenmora/kestrel/internal/sequence"
	"github.com/avenmora/kestrel/internal/transport"
	"github.com/avenmora/kestrel/internal/types"
	"github.com/avenmora/kestrel/internal/typing"
)

// DefaultPageSize is the history fetch size when Options does not set one.
const DefaultPageSize = 50

// Options configures a session engine.
type Options struct {
	Self     types.User
	Conn     transport.Conn
	History  transport.History
	PageSize int
	Logger   *log.Logger

	// OnUpdate fires after any visible change to the active channel's
	// state. Called without internal locks held; safe to call Snapshot.
	OnUpdate func()
	// OnUnread fires when a background channel's unread counter advances.
	OnUnread func(channelID string, msg types.Message)
	// OnThreadClosed fires when the message anchoring the open thread view
	// is deleted.
	OnThreadClosed func(messageID int64)
}

// channelState is everything scoped to one channel. Inactive channels keep
// their state warm as background caches; only the active one renders.
type channelState struct {
	seq          *sequence.Sequence
	outbox       *outbox.Queue
	members      map[string]types.User
	online       map[string]bool
	ownerID      string
	fetched      int
	endOfHistory bool
	loading      bool
	lastDelta    sequence.Delta
}

// Engine is the per-session synchronization engine. Created once at session
// start, reset by Close on logout. All state mutation is serialized by the
// internal mutex; timer and transport callbacks go through the same paths.
type Engine struct {
	mu   sync.Mutex
	opts Options

	channels     map[string]*channelState
	active       string
	activeThread int64
	connected    bool

	typing *typing.Tracker
	reads  *reads.Coordinator

	done chan struct{}
}

// New constructs the engine and starts its dispatcher. The caller owns the
// connection's lifecycle; the engine only reacts to its notices.
func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	e := &Engine{
		opts:     opts,
		channels: make(map[string]*channelState),
		done:     make(chan struct{}),
	}
	e.typing = typing.NewTracker(opts.Self.ID)
	e.typing.OnChange(e.signalUpdate)
	e.reads = reads.NewCoordinator(opts.Self.ID, e.confirmRead, opts.Logger)

	if opts.Conn != nil {
		go e.dispatch()
		go e.watchNotices()
	}
	return e
}

// Close stops the dispatcher and drops session state.
func (e *Engine) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.reads.Reset()
	e.typing.Reset()
}

func (e *Engine) confirmRead(channelID string, lastReadID int64) error {
	e.mu.Lock()
	conn := e.opts.Conn
	e.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no live connection")
	}
	return conn.Send(transport.MarkReadCommand(channelID, lastReadID))
}

func (e *Engine) sendCommand(cmd transport.Command) error {
	if e.opts.Conn == nil {
		return fmt.Errorf("no live connection")
	}
	return e.opts.Conn.Send(cmd)
}

func (e *Engine) channel(channelID string) *channelState {
	st, ok := e.channels[channelID]
	if !ok {
		st = &channelState{
			seq:     sequence.New(),
			outbox:  outbox.NewQueue(channelID, e.opts.Self, e.sendCommand, e.opts.Logger),
			members: make(map[string]types.User),
			online:  make(map[string]bool),
		}
		e.channels[channelID] = st
	}
	return st
}

// dispatch is the single consumer of the inbound event stream. Events are
// processed strictly in arrival order; routing happens here, by channel id,
// never inside the decoder.
func (e *Engine) dispatch() {
	events := e.opts.Conn.Events()
	for {
		select {
		case <-e.done:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			ev, err := event.Decode(raw)
			if err != nil {
				// Malformed or unknown events are dropped, never fatal.
				if e.opts.Logger != nil {
					e.opts.Logger.Printf("dropping event: %v", err)
				}
				continue
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) watchNotices() {
	notices := e.opts.Conn.Notices()
	for {
		select {
		case <-e.done:
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			e.mu.Lock()
			e.connected = n == transport.NoticeConnected
			e.mu.Unlock()
			e.signalUpdate()
		}
	}
}

// handleEvent applies one decoded event to the state it targets. Events for
// inactive channels still land in that channel's background cache; only
// their rendering effects are suppressed.
func (e *Engine) handleEvent(ev event.Event) {
	var (
		notifyUnread bool
		notifyMsg    types.Message
		threadClosed int64
		visible      bool
	)

	if ev.Type == event.TypeError {
		if e.opts.Logger != nil {
			e.opts.Logger.Printf("server error event: %s", ev.ErrMessage)
		}
		return
	}

	if ev.ChannelID == "" {
		// Without a channel id there is no state to route to; allocating
		// one keyed "" would only leak a phantom cache.
		if e.opts.Logger != nil {
			e.opts.Logger.Printf("dropping %s event without channel id", ev.Type)
		}
		return
	}

	e.mu.Lock()
	st := e.channel(ev.ChannelID)
	isActive := ev.ChannelID == e.active

	switch ev.Type {
	case event.TypeNewMessage, event.TypeMessageUpdated, event.TypeMessageDeleted,
		event.TypeReactionAdded, event.TypeReactionRemoved:
		delta := st.seq.Apply(ev)
		st.outbox.Observe(ev)
		if !delta.None() {
			st.lastDelta = delta
			visible = isActive
		}
		// A duplicate delivery leaves the sequence untouched; it must not
		// count or notify a second time either.
		if ev.Type == event.TypeNewMessage && ev.Message != nil && !delta.None() {
			if e.reads.OnNewMessage(ev.ChannelID, ev.Message.AuthorID, e.active) {
				notifyUnread = true
				notifyMsg = *ev.Message
				visible = true // badges render on every surface
			}
		}
		if delta.RemovedID != 0 && delta.RemovedID == e.activeThread {
			threadClosed = e.activeThread
			e.activeThread = 0
		}

	case event.TypeTyping:
		if ev.Typing != nil && isActive {
			// Tracker state is scoped to the active view; other channels'
			// indicators are simply not shown, so there is nothing to cache.
			e.mu.Unlock()
			e.typing.OnTyping(ev.Typing.UserID, ev.Typing.DisplayName, ev.Typing.IsTyping)
			e.mu.Lock()
		}

	case event.TypeReadReceipt:
		if ev.Receipt != nil {
			e.reads.OnReceipt(ev.ChannelID, ev.Receipt.UserID, ev.Receipt.LastReadID)
			visible = isActive
		}

	case event.TypePresence, event.TypeUserPresence:
		if ev.Member != nil {
			st.members[ev.Member.ID] = *ev.Member
			st.online[ev.Member.ID] = ev.Online
			visible = isActive
		}

	case event.TypeMemberJoined:
		if ev.Member != nil {
			st.members[ev.Member.ID] = *ev.Member
			visible = isActive
		}

	case event.TypeMemberLeft:
		if ev.Member != nil {
			delete(st.members, ev.Member.ID)
			delete(st.online, ev.Member.ID)
			visible = isActive
		}

	case event.TypeOwnerTransferred:
		if ev.Member != nil {
			st.ownerID = ev.Member.ID
			visible = isActive
		}
	}
	onUnread := e.opts.OnUnread
	onThreadClosed := e.opts.OnThreadClosed
	e.mu.Unlock()

	if notifyUnread && onUnread != nil {
		onUnread(ev.ChannelID, notifyMsg)
	}
	if threadClosed != 0 && onThreadClosed != nil {
		onThreadClosed(threadClosed)
	}
	if visible {
		e.signalUpdate()
	}
}

func (e *Engine) signalUpdate() {
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate()
	}
}

// SetActive switches the rendering view to a channel. Channel-scoped
// ephemera reset synchronously: typing entries clear and the previous
// channel's pending read confirmation is cancelled, so nothing bleeds into
// the new view. Returns the previous active channel.
func (e *Engine) SetActive(channelID string) string {
	e.mu.Lock()
	prev := e.active
	e.active = channelID
	e.activeThread = 0
	if channelID != "" {
		e.channel(channelID)
	}
	e.mu.Unlock()

	e.typing.Reset()
	if prev != "" && prev != channelID {
		e.reads.CancelPending(prev)
	}
	e.signalUpdate()
	return prev
}

// Self returns the local user identity the session was opened with.
func (e *Engine) Self() types.User {
	return e.opts.Self
}

// ActiveChannel returns the channel currently rendered.
func (e *Engine) ActiveChannel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetActiveThread records which message anchors the open thread view, so a
// delete of that message can close it.
func (e *Engine) SetActiveThread(messageID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeThread = messageID
}

// LoadOlderPage fetches the next history page for the active channel and
// merges it. Returns whether more history remains. A fetch completing after
// the user switched channels is discarded; a failed fetch leaves the
// sequence untouched and may simply be retried.
func (e *Engine) LoadOlderPage(ctx context.Context) (bool, error) {
	e.mu.Lock()
	channelID := e.active
	if channelID == "" || e.opts.History == nil {
		e.mu.Unlock()
		return false, nil
	}
	st := e.channel(channelID)
	if st.loading || st.endOfHistory {
		more := !st.endOfHistory
		e.mu.Unlock()
		return more, nil
	}
	st.loading = true
	offset := st.fetched
	limit := e.opts.PageSize
	e.mu.Unlock()

	page, err := e.opts.History.FetchPage(ctx, channelID, limit, offset)

	e.mu.Lock()
	st.loading = false
	if err != nil {
		e.mu.Unlock()
		return true, fmt.Errorf("load history for %s: %w", channelID, err)
	}
	if e.active != channelID {
		// Stale fetch for a channel we navigated away from.
		e.mu.Unlock()
		return true, nil
	}
	delta := st.seq.MergePage(page)
	st.fetched += len(page)
	if len(page) < limit {
		st.endOfHistory = true
	}
	if !delta.None() {
		st.lastDelta = delta
	}
	more := !st.endOfHistory
	e.mu.Unlock()

	if !delta.None() {
		e.signalUpdate()
	}
	return more, nil
}

// SendMessage posts to the active channel, optimistically and instantly
// visible. Returns the correlation token for the eventual echo.
func (e *Engine) SendMessage(content string, parentID *int64) (string, error) {
	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return "", fmt.Errorf("no active channel")
	}
	st := e.channel(e.active)
	token, delta, err := st.outbox.Send(st.seq, content, parentID)
	if err == nil && !delta.None() {
		st.lastDelta = delta
	}
	e.mu.Unlock()

	if err != nil {
		return "", err
	}
	e.signalUpdate()
	return token, nil
}

// EditMessage edits a message in the active channel, fail-open.
func (e *Engine) EditMessage(id int64, content string) error {
	return e.activeAction(func(st *channelState) (sequence.Delta, error) {
		return st.outbox.Edit(st.seq, id, content)
	})
}

// React adds the local user's reaction in the active channel, fail-open.
func (e *Engine) React(id int64, emoji string) error {
	return e.activeAction(func(st *channelState) (sequence.Delta, error) {
		return st.outbox.React(st.seq, id, emoji)
	})
}

// Unreact removes the local user's reaction in the active channel.
func (e *Engine) Unreact(id int64, emoji string) error {
	return e.activeAction(func(st *channelState) (sequence.Delta, error) {
		return st.outbox.Unreact(st.seq, id, emoji)
	})
}

// DeleteMessage asks the server to delete; the entry leaves the sequence
// when the message_deleted event comes back. Failures surface to the caller.
func (e *Engine) DeleteMessage(id int64) error {
	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return fmt.Errorf("no active channel")
	}
	st := e.channel(e.active)
	e.mu.Unlock()
	return st.outbox.Delete(id)
}

func (e *Engine) activeAction(fn func(*channelState) (sequence.Delta, error)) error {
	e.mu.Lock()
	if e.active == "" {
		e.mu.Unlock()
		return fmt.Errorf("no active channel")
	}
	st := e.channel(e.active)
	delta, err := fn(st)
	if err == nil && !delta.None() {
		st.lastDelta = delta
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	if !delta.None() {
		e.signalUpdate()
	}
	return nil
}

// MarkChannelRead acknowledges everything loaded in the active channel.
func (e *Engine) MarkChannelRead() {
	e.mu.Lock()
	channelID := e.active
	var latest int64
	if channelID != "" {
		latest = e.channel(channelID).seq.LatestID()
	}
	e.mu.Unlock()

	if channelID == "" {
		return
	}
	e.reads.MarkRead(channelID, latest)
	e.signalUpdate()
}

// SetTyping sends the local user's typing indicator for the active channel.
// Best effort: transport failures are invisible by design.
func (e *Engine) SetTyping(isTyping bool) {
	e.mu.Lock()
	channelID := e.active
	e.mu.Unlock()
	if channelID == "" {
		return
	}
	if err := e.sendCommand(transport.TypingCommand(channelID, isTyping)); err != nil && e.opts.Logger != nil {
		e.opts.Logger.Printf("typing indicator send failed: %v", err)
	}
}
