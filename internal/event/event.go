package event

import "github.com/avenmora/kestrel/internal/types"

// Type discriminates inbound live events. The set is closed: anything else
// fails decoding and is dropped by the caller.
type Type string

const (
	TypeNewMessage       Type = "new_message"
	TypeMessageUpdated   Type = "message_updated"
	TypeMessageDeleted   Type = "message_deleted"
	TypeReactionAdded    Type = "reaction_added"
	TypeReactionRemoved  Type = "reaction_removed"
	TypeTyping           Type = "typing"
	TypeReadReceipt      Type = "read_receipt"
	TypePresence         Type = "presence"
	TypeUserPresence     Type = "user_presence"
	TypeMemberJoined     Type = "member_joined"
	TypeMemberLeft       Type = "member_left"
	TypeOwnerTransferred Type = "owner_transferred"
	TypeError            Type = "error"
)

// Event is a decoded live event. Type selects which payload fields are set;
// ChannelID is always preserved so the caller can route events for inactive
// channels to their background caches. The decoder never routes.
type Event struct {
	Type      Type
	ChannelID string

	// Message carries the full message for new_message and the updated
	// fields for message_updated.
	Message *types.Message

	// MessageID targets message_deleted, reaction_added and reaction_removed.
	MessageID int64

	// Reaction carries the pair for reaction_added / reaction_removed.
	Reaction *types.Reaction

	// Typing carries the indicator state for typing events.
	Typing *TypingState

	// Receipt carries read_receipt payloads.
	Receipt *Receipt

	// Member carries membership and presence payloads.
	Member *types.User

	// Online is set for presence / user_presence events.
	Online bool

	// ErrMessage carries the server's text for error events.
	ErrMessage string

	// Correlation links a new_message echo back to a local optimistic send.
	Correlation string
}

// TypingState is the payload of a typing event.
type TypingState struct {
	UserID      string
	DisplayName string
	IsTyping    bool
}

// Receipt is the payload of a read_receipt event.
type Receipt struct {
	UserID     string
	LastReadID int64
}
