// Package outbox turns local user intents into transport commands and
// reconciles their echoed server events against optimistic state.
//
// Send is fail-closed: a placeholder that never confirms is removed and the
// error surfaced, because a silent retry could duplicate the message. Edits
// and reactions are fail-open: they are idempotent and low-risk, so an
// optimistic change whose echo never arrives is simply left in place.
package outbox

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avenmora/kestrel/internal/event"
	"github.com/avenmora/kestrel/internal/sequence"
	"github.com/avenmora/kestrel/internal/transport"
	"github.com/avenmora/kestrel/internal/types"
)

// DefaultReconcileWindow bounds how long an optimistic edit or reaction
// waits for its echo before the queue stops tracking it (fail-open).
const DefaultReconcileWindow = 10 * time.Second

type reactKey struct {
	messageID int64
	emoji     string
}

// Queue is the outgoing action queue for one channel.
type Queue struct {
	mu        sync.Mutex
	channelID string
	self      types.User
	send      func(transport.Command) error
	window    time.Duration
	newToken  func() string
	now       func() time.Time
	logger    *log.Logger

	edits  map[int64]*time.Timer
	reacts map[reactKey]*time.Timer
}

// NewQueue constructs the queue for one channel. send delivers one command
// over the live connection; logger may be nil.
func NewQueue(channelID string, self types.User, send func(transport.Command) error, logger *log.Logger) *Queue {
	return &Queue{
		channelID: channelID,
		self:      self,
		send:      send,
		window:    DefaultReconcileWindow,
		newToken:  uuid.NewString,
		now:       time.Now,
		logger:    logger,
		edits:     make(map[int64]*time.Timer),
		reacts:    make(map[reactKey]*time.Timer),
	}
}

// SetReconcileWindow overrides the fail-open window. Tests use short ones.
func (q *Queue) SetReconcileWindow(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.window = d
}

// Send appends an optimistic placeholder to the sequence and issues the
// transport call. On transport failure the placeholder is removed and the
// error returned; the send is not retried without explicit re-invocation.
func (q *Queue) Send(seq *sequence.Sequence, content string, parentID *int64) (string, sequence.Delta, error) {
	token := q.newToken()
	placeholder := types.Message{
		ChannelID:   q.channelID,
		AuthorID:    q.self.ID,
		AuthorName:  q.self.DisplayName,
		Content:     content,
		CreatedAt:   q.now().UnixMilli(),
		ParentID:    parentID,
		Correlation: token,
	}
	delta := seq.AppendPending(placeholder)

	if err := q.send(transport.SendCommand(q.channelID, content, parentID, token)); err != nil {
		seq.RemovePending(token)
		return "", sequence.Delta{}, fmt.Errorf("send message: %w", err)
	}
	return token, delta, nil
}

// Edit applies the new content optimistically and issues the transport call.
// Fail-open: a transport failure or missing echo leaves the optimistic
// content in place.
func (q *Queue) Edit(seq *sequence.Sequence, id int64, content string) (sequence.Delta, error) {
	at := q.now().UnixMilli()
	ok := seq.MutateOptimistic(id, func(m *types.Message) {
		m.Content = content
		m.UpdatedAt = &at
	})
	if !ok {
		return sequence.Delta{}, fmt.Errorf("edit message %d: not loaded", id)
	}

	if err := q.send(transport.EditCommand(q.channelID, id, content)); err != nil {
		if q.logger != nil {
			q.logger.Printf("edit %d transport failed, keeping optimistic content: %v", id, err)
		}
		return sequence.Delta{Changed: true}, nil
	}
	q.armEdit(id)
	return sequence.Delta{Changed: true}, nil
}

// React adds the (self, emoji) pair optimistically and issues the transport
// call. Adding a pair the message already carries is a no-op.
func (q *Queue) React(seq *sequence.Sequence, id int64, emoji string) (sequence.Delta, error) {
	applied := false
	ok := seq.MutateOptimistic(id, func(m *types.Message) {
		if m.HasReaction(q.self.ID, emoji) {
			return
		}
		m.Reactions = append(m.Reactions, types.Reaction{UserID: q.self.ID, Emoji: emoji})
		applied = true
	})
	if !ok {
		return sequence.Delta{}, fmt.Errorf("react to message %d: not loaded", id)
	}

	if err := q.send(transport.ReactCommand(q.channelID, id, emoji, false)); err != nil {
		if q.logger != nil {
			q.logger.Printf("react to %d transport failed, keeping optimistic reaction: %v", id, err)
		}
	} else if applied {
		q.armReact(id, emoji)
	}
	if applied {
		return sequence.Delta{Changed: true}, nil
	}
	return sequence.Delta{}, nil
}

// Unreact removes the (self, emoji) pair optimistically and issues the
// transport call.
func (q *Queue) Unreact(seq *sequence.Sequence, id int64, emoji string) (sequence.Delta, error) {
	removed := false
	ok := seq.MutateOptimistic(id, func(m *types.Message) {
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID == q.self.ID && r.Emoji == emoji {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		m.Reactions = kept
	})
	if !ok {
		return sequence.Delta{}, fmt.Errorf("unreact message %d: not loaded", id)
	}

	if err := q.send(transport.ReactCommand(q.channelID, id, emoji, true)); err != nil && q.logger != nil {
		q.logger.Printf("unreact %d transport failed, keeping optimistic removal: %v", id, err)
	}
	if removed {
		return sequence.Delta{Changed: true}, nil
	}
	return sequence.Delta{}, nil
}

// Delete issues the transport call for a destructive removal. There is no
// optimistic removal: the entry leaves the sequence only when the
// message_deleted event arrives, and a transport failure is surfaced.
func (q *Queue) Delete(id int64) error {
	if err := q.send(transport.DeleteCommand(q.channelID, id)); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// Observe watches decoded events for echoes of tracked optimistic actions
// and cancels their reconcile windows.
func (q *Queue) Observe(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch ev.Type {
	case event.TypeMessageUpdated:
		if ev.Message == nil {
			return
		}
		if t, ok := q.edits[ev.Message.ID]; ok {
			t.Stop()
			delete(q.edits, ev.Message.ID)
		}
	case event.TypeReactionAdded:
		if ev.Reaction == nil || ev.Reaction.UserID != q.self.ID {
			return
		}
		key := reactKey{messageID: ev.MessageID, emoji: ev.Reaction.Emoji}
		if t, ok := q.reacts[key]; ok {
			t.Stop()
			delete(q.reacts, key)
		}
	}
}

// TrackedEdits returns how many edits still await their echo.
func (q *Queue) TrackedEdits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.edits)
}

// TrackedReacts returns how many reactions still await their echo.
func (q *Queue) TrackedReacts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reacts)
}

func (q *Queue) armEdit(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if prev, ok := q.edits[id]; ok {
		prev.Stop()
	}
	q.edits[id] = time.AfterFunc(q.window, func() {
		q.mu.Lock()
		delete(q.edits, id)
		q.mu.Unlock()
		if q.logger != nil {
			q.logger.Printf("edit %d never echoed, leaving optimistic content in place", id)
		}
	})
}

func (q *Queue) armReact(id int64, emoji string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := reactKey{messageID: id, emoji: emoji}
	if prev, ok := q.reacts[key]; ok {
		prev.Stop()
	}
	q.reacts[key] = time.AfterFunc(q.window, func() {
		q.mu.Lock()
		delete(q.reacts, key)
		q.mu.Unlock()
		if q.logger != nil {
			q.logger.Printf("reaction on %d never echoed, leaving optimistic state in place", id)
		}
	})
}
