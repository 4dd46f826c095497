package engine

import (
	"sort"

	"github.com/avenmora/kestrel/internal/sequence"
	"github.com/avenmora/kestrel/internal/types"
)

// Snapshot is the read-only view the rendering layer consumes. Everything in
// it is a copy; mutating a snapshot never touches engine state.
type Snapshot struct {
	ChannelID string
	Connected bool

	// Messages is the active channel's canonical sequence in display order.
	Messages []types.Message
	// Typing lists display names currently typing in the active channel.
	Typing []string
	// Unread maps channel id to its unread count, non-zero entries only.
	Unread map[string]int
	// TotalUnread is the sum across channels, for the tab title.
	TotalUnread int
	// Boundary holds the active channel's read watermarks.
	Boundary types.ReadBoundary
	// Members lists the active channel's known members, online first.
	Members []Member
	// OwnerID is the active channel's owner, when known.
	OwnerID string
	// LastDelta describes the most recent sequence change; the view feeds
	// it to the scroll anchor policy.
	LastDelta sequence.Delta
	// EndOfHistory is true once paging up has exhausted the archive.
	EndOfHistory bool
}

// Member pairs a user with their presence.
type Member struct {
	types.User
	Online bool
}

// Snapshot captures the current state of the active channel plus the
// process-wide unread map.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{
		ChannelID:   e.active,
		Connected:   e.connected,
		Unread:      nil,
		TotalUnread: 0,
	}
	if st, ok := e.channels[e.active]; ok {
		snap.Messages = st.seq.Messages()
		snap.LastDelta = st.lastDelta
		snap.EndOfHistory = st.endOfHistory
		snap.OwnerID = st.ownerID
		for id, u := range st.members {
			snap.Members = append(snap.Members, Member{User: u, Online: st.online[id]})
		}
	}
	e.mu.Unlock()

	sort.Slice(snap.Members, func(i, j int) bool {
		if snap.Members[i].Online != snap.Members[j].Online {
			return snap.Members[i].Online
		}
		return snap.Members[i].ID < snap.Members[j].ID
	})

	snap.Typing = e.typing.Names()
	snap.Unread = e.reads.UnreadCounts()
	snap.TotalUnread = e.reads.TotalUnread()
	if snap.ChannelID != "" {
		snap.Boundary = e.reads.Boundary(snap.ChannelID)
	}
	return snap
}

// UnreadCount returns one channel's unread counter without building a full
// snapshot. Sidebar rows poll this.
func (e *Engine) UnreadCount(channelID string) int {
	return e.reads.Unread(channelID)
}
