package types

// User identifies a channel member.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Reaction is one (user, emoji) pair on a message. A message carries at most
// one reaction per pair; the reducer enforces the set semantics.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is one entry in a channel's canonical sequence.
//
// A message is either committed (ID > 0, assigned by the server exactly once)
// or pending (ID == 0, Correlation set): a local optimistic placeholder that
// is replaced by the authoritative server copy once the matching new_message
// event arrives. Code that reconciles must switch on Pending(), not probe
// fields directly.
type Message struct {
	ID          int64      `json:"id"`
	ChannelID   string     `json:"channel_id"`
	AuthorID    string     `json:"author_id"`
	AuthorName  string     `json:"author_name,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   *int64     `json:"updated_at,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`
	ReplyCount  int        `json:"reply_count,omitempty"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	Correlation string     `json:"correlation,omitempty"`
}

// Pending reports whether the message is a local optimistic placeholder that
// has not yet been confirmed by the server.
func (m Message) Pending() bool {
	return m.ID == 0 && m.Correlation != ""
}

// HasReaction reports whether the message already carries the given pair.
func (m Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ReadBoundary holds the per-channel read watermarks.
//
// SelfLastReadID is the highest id the local user has acknowledged; it is
// advanced optimistically on channel entry. OthersReadID is the highest id
// acknowledged by any other member; it only ever advances (max-merge), since
// receipts may arrive out of order.
type ReadBoundary struct {
	SelfLastReadID int64 `json:"self_last_read_id"`
	OthersReadID   int64 `json:"others_read_id"`
}

// TypingEntry is one "user is typing" record, process-lifetime only.
type TypingEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	// StartedAt is when the most recent typing:true for this user was seen,
	// in unix milliseconds. Entries expire after a quiet window.
	StartedAt int64 `json:"started_at"`
}
