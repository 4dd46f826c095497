package sequence

import (
	"github.com/avenmora/kestrel/internal/event"
	"github.com/avenmora/kestrel/internal/types"
)

// Apply folds one decoded live event into the sequence and reports the
// resulting delta. Events targeting ids outside the loaded window are
// dropped: they describe messages the client has not paged in, not errors.
//
// Live events always win over page data for mutable fields; they are
// strictly newer in logical time. Apply is idempotent for every event type.
func (s *Sequence) Apply(ev event.Event) Delta {
	switch ev.Type {
	case event.TypeNewMessage:
		return s.applyNew(ev)
	case event.TypeMessageUpdated:
		return s.applyUpdate(ev)
	case event.TypeMessageDeleted:
		return s.applyDelete(ev)
	case event.TypeReactionAdded:
		return s.applyReactionAdded(ev)
	case event.TypeReactionRemoved:
		return s.applyReactionRemoved(ev)
	}
	return Delta{}
}

func (s *Sequence) applyNew(ev event.Event) Delta {
	if ev.Message == nil || ev.Message.ID == 0 {
		return Delta{}
	}
	msg := *ev.Message

	// Idempotent re-delivery. If the committed copy landed through another
	// path first, still retire any placeholder for the same correlation.
	if s.Contains(msg.ID) {
		if ev.Correlation != "" && s.RemovePending(ev.Correlation) {
			return Delta{Changed: true}
		}
		return Delta{}
	}

	// Reconcile an optimistic send: replace the placeholder at its position
	// rather than inserting a duplicate, so the viewport does not jump.
	if ev.Correlation != "" {
		for i, m := range s.msgs {
			if m.Pending() && m.Correlation == ev.Correlation {
				s.msgs[i] = msg
				s.resort()
				return Delta{Changed: true}
			}
		}
	}

	prevLatest := s.LatestID()
	s.msgs = append(s.msgs, msg)
	s.resort()
	if msg.ID > prevLatest {
		return Delta{Appended: 1}
	}
	// Arrived slightly out of id order under concurrent senders; it was
	// insert-sorted into place.
	return Delta{Changed: true}
}

func (s *Sequence) applyUpdate(ev event.Event) Delta {
	if ev.Message == nil {
		return Delta{}
	}
	i := s.indexOf(ev.Message.ID)
	if i < 0 {
		// Not yet loaded; the edit will be reflected by the next page fetch.
		return Delta{}
	}
	// Only content and the edit timestamp move; reactions and reply counts
	// stay as accumulated locally.
	s.msgs[i].Content = ev.Message.Content
	s.msgs[i].UpdatedAt = ev.Message.UpdatedAt
	return Delta{Changed: true}
}

func (s *Sequence) applyDelete(ev event.Event) Delta {
	i := s.indexOf(ev.MessageID)
	if i < 0 {
		return Delta{}
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return Delta{RemovedID: ev.MessageID}
}

func (s *Sequence) applyReactionAdded(ev event.Event) Delta {
	if ev.Reaction == nil {
		return Delta{}
	}
	i := s.indexOf(ev.MessageID)
	if i < 0 {
		return Delta{}
	}
	if s.msgs[i].HasReaction(ev.Reaction.UserID, ev.Reaction.Emoji) {
		return Delta{}
	}
	s.msgs[i].Reactions = append(s.msgs[i].Reactions, *ev.Reaction)
	return Delta{Changed: true}
}

func (s *Sequence) applyReactionRemoved(ev event.Event) Delta {
	if ev.Reaction == nil {
		return Delta{}
	}
	i := s.indexOf(ev.MessageID)
	if i < 0 {
		return Delta{}
	}
	kept := s.msgs[i].Reactions[:0]
	removed := false
	for _, r := range s.msgs[i].Reactions {
		if r.UserID == ev.Reaction.UserID && r.Emoji == ev.Reaction.Emoji {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return Delta{}
	}
	s.msgs[i].Reactions = kept
	return Delta{Changed: true}
}

// MutateOptimistic applies a local edit or reaction before the server
// confirms it. The outgoing action queue reconciles (or fails open) later.
func (s *Sequence) MutateOptimistic(id int64, fn func(*types.Message)) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	fn(&s.msgs[i])
	return true
}
