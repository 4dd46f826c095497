package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avenmora/kestrel/internal/types"
)

// ErrUnknownEvent is returned for payloads whose type is outside the closed
// event set. Callers drop these without tearing down the stream.
var ErrUnknownEvent = errors.New("unknown event type")

// wireEvent is the superset envelope the server sends. Fields are optional;
// Decode validates the ones each type requires.
type wireEvent struct {
	Type        string         `json:"type"`
	ChannelID   string         `json:"channel_id"`
	Message     *types.Message `json:"message,omitempty"`
	MessageID   int64          `json:"message_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Emoji       string         `json:"emoji,omitempty"`
	IsTyping    bool           `json:"is_typing,omitempty"`
	Online      bool           `json:"online,omitempty"`
	LastReadID  int64          `json:"last_read_id,omitempty"`
	Correlation string         `json:"correlation,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Decode validates a raw transport payload and maps it into an Event.
//
// It is a pure mapping: no routing, no side effects. Payloads for channels
// other than the active one decode the same way; the ChannelID is preserved
// for the caller to route on. A missing type tag defaults to new_message,
// matching the wire format's untagged message delivery.
func Decode(raw []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	typ := Type(wire.Type)
	if wire.Type == "" {
		typ = TypeNewMessage
	}

	ev := Event{Type: typ, ChannelID: wire.ChannelID}

	switch typ {
	case TypeNewMessage:
		if wire.Message == nil {
			// Untagged default: the payload itself is the message.
			var msg types.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return Event{}, fmt.Errorf("decode message: %w", err)
			}
			if msg.ID == 0 {
				return Event{}, fmt.Errorf("decode message: missing id")
			}
			wire.Message = &msg
		}
		ev.Message = wire.Message
		ev.Correlation = wire.Correlation
		if ev.Correlation == "" {
			ev.Correlation = wire.Message.Correlation
		}
		if ev.ChannelID == "" {
			ev.ChannelID = wire.Message.ChannelID
		}
	case TypeMessageUpdated:
		if wire.Message == nil {
			return Event{}, fmt.Errorf("message_updated: missing message")
		}
		ev.Message = wire.Message
		if ev.ChannelID == "" {
			ev.ChannelID = wire.Message.ChannelID
		}
	case TypeMessageDeleted:
		if wire.MessageID == 0 {
			return Event{}, fmt.Errorf("message_deleted: missing message_id")
		}
		ev.MessageID = wire.MessageID
	case TypeReactionAdded, TypeReactionRemoved:
		if wire.MessageID == 0 {
			return Event{}, fmt.Errorf("%s: missing message_id", typ)
		}
		if wire.UserID == "" || wire.Emoji == "" {
			return Event{}, fmt.Errorf("%s: missing user_id or emoji", typ)
		}
		ev.MessageID = wire.MessageID
		ev.Reaction = &types.Reaction{UserID: wire.UserID, Emoji: wire.Emoji}
	case TypeTyping:
		if wire.UserID == "" {
			return Event{}, fmt.Errorf("typing: missing user_id")
		}
		ev.Typing = &TypingState{
			UserID:      wire.UserID,
			DisplayName: wire.DisplayName,
			IsTyping:    wire.IsTyping,
		}
	case TypeReadReceipt:
		if wire.UserID == "" {
			return Event{}, fmt.Errorf("read_receipt: missing user_id")
		}
		ev.Receipt = &Receipt{UserID: wire.UserID, LastReadID: wire.LastReadID}
	case TypePresence, TypeUserPresence:
		if wire.UserID == "" {
			return Event{}, fmt.Errorf("%s: missing user_id", typ)
		}
		ev.Member = &types.User{ID: wire.UserID, DisplayName: wire.DisplayName}
		ev.Online = wire.Online
	case TypeMemberJoined, TypeMemberLeft, TypeOwnerTransferred:
		if wire.UserID == "" {
			return Event{}, fmt.Errorf("%s: missing user_id", typ)
		}
		ev.Member = &types.User{ID: wire.UserID, DisplayName: wire.DisplayName}
	case TypeError:
		ev.ErrMessage = wire.Error
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, wire.Type)
	}

	return ev, nil
}
