package sequence

import (
	"testing"

	"github.com/avenmora/kestrel/internal/types"
)

func msg(id int64, content string) types.Message {
	return types.Message{ID: id, ChannelID: "ch1", AuthorID: "u1", Content: content, CreatedAt: id}
}

func ids(s *Sequence) []int64 {
	msgs := s.Messages()
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergePageInitialLoad(t *testing.T) {
	s := New()
	d := s.MergePage([]types.Message{msg(10, "a"), msg(11, "b"), msg(12, "c")})
	if !equalIDs(ids(s), []int64{10, 11, 12}) {
		t.Errorf("ids = %v, expected [10 11 12]", ids(s))
	}
	if d.Appended != 3 {
		t.Errorf("appended = %d, expected 3", d.Appended)
	}
}

func TestMergePageOlderPagePrepends(t *testing.T) {
	s := New()
	s.MergePage([]types.Message{msg(10, "a"), msg(11, "b")})
	d := s.MergePage([]types.Message{msg(7, "x"), msg(8, "y"), msg(9, "z")})
	if !equalIDs(ids(s), []int64{7, 8, 9, 10, 11}) {
		t.Errorf("ids = %v, expected [7 8 9 10 11]", ids(s))
	}
	if d.Prepended != 3 || d.Appended != 0 {
		t.Errorf("delta = %+v, expected 3 prepended", d)
	}
}

func TestMergePageIsUnionOfIDs(t *testing.T) {
	s := New()
	s.MergePage([]types.Message{msg(10, "a"), msg(11, "b"), msg(12, "c")})
	// Overlapping page: 11 and 12 already loaded.
	d := s.MergePage([]types.Message{msg(9, "w"), msg(10, "a"), msg(11, "b"), msg(12, "c")})
	if !equalIDs(ids(s), []int64{9, 10, 11, 12}) {
		t.Errorf("ids = %v, expected [9 10 11 12]", ids(s))
	}
	if d.Prepended != 1 {
		t.Errorf("prepended = %d, expected 1", d.Prepended)
	}
}

func TestMergePageStalePageKeepsLiveMutations(t *testing.T) {
	s := New()
	s.MergePage([]types.Message{msg(10, "original")})

	// A live edit and reaction land before the next page fetch.
	edited := int64(99)
	s.MutateOptimistic(10, func(m *types.Message) {
		m.Content = "edited live"
		m.UpdatedAt = &edited
		m.Reactions = append(m.Reactions, types.Reaction{UserID: "u2", Emoji: "+1"})
	})

	// The stale page still carries the pre-edit snapshot.
	s.MergePage([]types.Message{msg(9, "older"), msg(10, "original")})

	got, ok := s.Get(10)
	if !ok {
		t.Fatalf("message 10 missing after merge")
	}
	if got.Content != "edited live" {
		t.Errorf("content = %q, expected live edit to survive the merge", got.Content)
	}
	if len(got.Reactions) != 1 {
		t.Errorf("reactions = %v, expected live reaction to survive", got.Reactions)
	}
}

func TestMergePageEmptyPageIsNoop(t *testing.T) {
	s := New()
	s.MergePage([]types.Message{msg(10, "a")})
	d := s.MergePage(nil)
	if !d.None() || s.Len() != 1 {
		t.Errorf("empty page changed state: delta=%+v len=%d", d, s.Len())
	}
}

func TestMergePageLeavesPendingAtTail(t *testing.T) {
	s := New()
	s.MergePage([]types.Message{msg(10, "a")})
	s.AppendPending(types.Message{ChannelID: "ch1", AuthorID: "me", Content: "draft", Correlation: "c1"})
	s.MergePage([]types.Message{msg(8, "old"), msg(9, "old2")})

	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	if !last.Pending() || last.Correlation != "c1" {
		t.Errorf("tail = %+v, expected the pending placeholder", last)
	}
	if !equalIDs(ids(s)[:3], []int64{8, 9, 10}) {
		t.Errorf("committed prefix = %v, expected [8 9 10]", ids(s)[:3])
	}
}
