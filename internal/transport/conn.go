// Package transport provides the engine's two external collaborators: the
// live duplex connection and the REST history endpoint. The engine depends
// only on the Conn and History interfaces; reconnect and backoff policy live
// with whoever owns the concrete connection.
package transport

import (
	"context"

	"github.com/avenmora/kestrel/internal/types"
)

// Notice reports a connection lifecycle change. The engine reacts to these
// but never drives reconnection itself.
type Notice int

const (
	NoticeConnected Notice = iota
	NoticeDisconnected
)

// Conn is the abstract live connection: inbound raw event payloads, outbound
// typed commands, and lifecycle notices.
type Conn interface {
	// Events delivers raw inbound payloads in arrival order. The channel
	// closes when the connection is torn down for good.
	Events() <-chan []byte
	// Notices delivers connect/disconnect notifications.
	Notices() <-chan Notice
	// Send writes one outbound command. It may fail at any time; callers
	// must not assume the connection is continuously present.
	Send(v any) error
	// Close tears the connection down.
	Close() error
}

// Command is the outbound envelope for every typed command.
type Command struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content,omitempty"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	IsTyping    bool   `json:"is_typing,omitempty"`
	LastReadID  int64  `json:"last_read_id,omitempty"`
	Correlation string `json:"correlation,omitempty"`
}

// SendCommand builds the outbound command for a new message.
func SendCommand(channelID, content string, parentID *int64, correlation string) Command {
	return Command{
		Type:        "send",
		ChannelID:   channelID,
		Content:     content,
		ParentID:    parentID,
		Correlation: correlation,
	}
}

// EditCommand builds the outbound command for a message edit.
func EditCommand(channelID string, messageID int64, content string) Command {
	return Command{Type: "edit", ChannelID: channelID, MessageID: messageID, Content: content}
}

// DeleteCommand builds the outbound command for a message delete.
func DeleteCommand(channelID string, messageID int64) Command {
	return Command{Type: "delete", ChannelID: channelID, MessageID: messageID}
}

// ReactCommand builds the outbound command for adding or removing a reaction.
func ReactCommand(channelID string, messageID int64, emoji string, remove bool) Command {
	typ := "react"
	if remove {
		typ = "unreact"
	}
	return Command{Type: typ, ChannelID: channelID, MessageID: messageID, Emoji: emoji}
}

// TypingCommand builds the outbound typing indicator command.
func TypingCommand(channelID string, isTyping bool) Command {
	return Command{Type: "typing", ChannelID: channelID, IsTyping: isTyping}
}

// MarkReadCommand builds the outbound read confirmation command.
func MarkReadCommand(channelID string, lastReadID int64) Command {
	return Command{Type: "mark_read", ChannelID: channelID, LastReadID: lastReadID}
}

// History is the abstract REST history endpoint.
type History interface {
	// FetchPage returns one history page, ascending by id within the page.
	// A page shorter than limit signals end-of-history.
	FetchPage(ctx context.Context, channelID string, limit, offset int) ([]types.Message, error)
}
