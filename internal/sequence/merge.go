package sequence

import "github.com/avenmora/kestrel/internal/types"

// MergePage folds one REST history page into the sequence.
//
// The result is the union of the loaded ids and the page's ids. When both
// sides hold a copy of the same id the loaded entry wins wholesale: it may
// carry live-event mutations (edits, reactions) the page snapshot predates,
// and live state must never be clobbered by a stale fetch. Pending
// placeholders are untouched; they stay at the tail.
//
// A failed fetch never reaches this method, so error recovery is "leave the
// sequence alone" for free.
func (s *Sequence) MergePage(page []types.Message) Delta {
	if len(page) == 0 {
		return Delta{}
	}

	prevCommitted := s.committedLen()
	prevOldest := s.OldestID()
	prevLatest := s.LatestID()

	seen := make(map[int64]bool, prevCommitted)
	for i := 0; i < prevCommitted; i++ {
		seen[s.msgs[i].ID] = true
	}

	d := Delta{}
	for _, m := range page {
		if m.ID == 0 || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		s.msgs = append(s.msgs, m)
		switch {
		case prevCommitted == 0 || m.ID > prevLatest:
			d.Appended++
		case m.ID < prevOldest:
			d.Prepended++
		default:
			// Fills a gap inside the loaded window; a change but not a
			// scroll cue in either direction.
			d.Changed = true
		}
	}
	if d.None() {
		return d
	}
	s.resort()
	return d
}
