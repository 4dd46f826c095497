// Package sequence maintains the canonical message sequence for one channel:
// ascending by server id, unique by id, with local optimistic placeholders
// kept after all committed entries until the server confirms them.
package sequence

import (
	"sort"

	"github.com/avenmora/kestrel/internal/types"
)

// Sequence is the authoritative ordered message list for one channel. It is
// exclusively owned by that channel's reducer; all mutation goes through
// MergePage, Apply and the pending-entry operations.
type Sequence struct {
	msgs []types.Message
}

// New returns an empty sequence.
func New() *Sequence {
	return &Sequence{}
}

// Delta summarizes how one mutation changed the sequence. The scroll anchor
// controller decides viewport moves from it.
type Delta struct {
	// Prepended is the count of messages inserted before the previous head.
	Prepended int
	// Appended is the count of messages inserted after the previous tail.
	Appended int
	// Changed is true when an entry mutated in place (edit, reaction,
	// pending placeholder confirmed).
	Changed bool
	// RemovedID is the id of a deleted message, 0 otherwise.
	RemovedID int64
}

// None reports whether the delta carries no visible change.
func (d Delta) None() bool {
	return d.Prepended == 0 && d.Appended == 0 && !d.Changed && d.RemovedID == 0
}

// Len returns the number of entries, pending placeholders included.
func (s *Sequence) Len() int {
	return len(s.msgs)
}

// Messages returns a copy of the entries in display order. Reaction slices
// are copied too; callers can hold a snapshot across later mutations.
func (s *Sequence) Messages() []types.Message {
	out := make([]types.Message, len(s.msgs))
	copy(out, s.msgs)
	for i := range out {
		if len(out[i].Reactions) > 0 {
			reactions := make([]types.Reaction, len(out[i].Reactions))
			copy(reactions, out[i].Reactions)
			out[i].Reactions = reactions
		}
	}
	return out
}

// LatestID returns the highest committed id, or 0 when none are loaded.
func (s *Sequence) LatestID() int64 {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if !s.msgs[i].Pending() {
			return s.msgs[i].ID
		}
	}
	return 0
}

// OldestID returns the lowest committed id, or 0 when none are loaded.
func (s *Sequence) OldestID() int64 {
	for _, m := range s.msgs {
		if !m.Pending() {
			return m.ID
		}
	}
	return 0
}

// Get returns the committed message with the given id.
func (s *Sequence) Get(id int64) (types.Message, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.msgs[i], true
	}
	return types.Message{}, false
}

// Contains reports whether a committed message with the given id is loaded.
func (s *Sequence) Contains(id int64) bool {
	return s.indexOf(id) >= 0
}

// indexOf finds a committed message by id via binary search over the
// committed prefix. Returns -1 when absent.
func (s *Sequence) indexOf(id int64) int {
	n := s.committedLen()
	i := sort.Search(n, func(i int) bool { return s.msgs[i].ID >= id })
	if i < n && s.msgs[i].ID == id {
		return i
	}
	return -1
}

// committedLen returns the length of the committed prefix. Pending entries
// always live at the tail.
func (s *Sequence) committedLen() int {
	n := len(s.msgs)
	for n > 0 && s.msgs[n-1].Pending() {
		n--
	}
	return n
}

// resort restores the ordering invariant: committed entries ascending by id,
// pending entries after all committed ones in insertion order.
func (s *Sequence) resort() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		a, b := s.msgs[i], s.msgs[j]
		if a.Pending() != b.Pending() {
			return !a.Pending()
		}
		if a.Pending() {
			// Stable sort keeps pending entries in insertion order.
			return false
		}
		return a.ID < b.ID
	})
}

// AppendPending adds a local optimistic placeholder at the tail.
func (s *Sequence) AppendPending(msg types.Message) Delta {
	s.msgs = append(s.msgs, msg)
	return Delta{Appended: 1}
}

// RemovePending drops the placeholder with the given correlation token, if
// still present. Used when a send ultimately fails.
func (s *Sequence) RemovePending(correlation string) bool {
	for i, m := range s.msgs {
		if m.Pending() && m.Correlation == correlation {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// PendingCount returns the number of unconfirmed placeholders.
func (s *Sequence) PendingCount() int {
	n := 0
	for _, m := range s.msgs {
		if m.Pending() {
			n++
		}
	}
	return n
}
