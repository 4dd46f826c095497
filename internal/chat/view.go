package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/avenmora/kestrel/internal/engine"
	"github.com/avenmora/kestrel/internal/types"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unreadStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	authorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	selfStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	pendingStyle   = lipgloss.NewStyle().Faint(true)
	editedStyle    = lipgloss.NewStyle().Faint(true)
	reactionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	typingStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle = lipgloss.NewStyle().Reverse(true)
	seenStyle      = lipgloss.NewStyle().Faint(true)
)

func (m Model) View() string {
	if !m.ready {
		return "connecting..."
	}

	snap := m.eng.Snapshot()

	var b strings.Builder
	b.WriteString(m.renderHeader(snap))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.renderTypingLine(snap))
	b.WriteString("\n")
	b.WriteString(m.ta.View())
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(m.err.Error()))
		if m.status != "" {
			b.WriteString(" " + m.status)
		}
	}
	return b.String()
}

func (m Model) renderHeader(snap engine.Snapshot) string {
	title := headerStyle.Render("#" + snap.ChannelID)
	if !snap.Connected {
		title += " " + offlineStyle.Render("(offline)")
	}
	if snap.TotalUnread > 0 {
		title += " " + unreadStyle.Render(fmt.Sprintf("[%d unread]", snap.TotalUnread))
	}
	for ch, n := range snap.Unread {
		if ch != snap.ChannelID {
			title += fmt.Sprintf(" %s:%d", ch, n)
		}
	}
	return title
}

func (m Model) renderTypingLine(snap engine.Snapshot) string {
	switch len(snap.Typing) {
	case 0:
		return ""
	case 1:
		return typingStyle.Render(snap.Typing[0] + " is typing...")
	default:
		return typingStyle.Render(strings.Join(snap.Typing, ", ") + " are typing...")
	}
}

// renderMessages builds the scrollback for the viewport.
func (m Model) renderMessages(snap engine.Snapshot) string {
	if len(snap.Messages) == 0 {
		return "no messages yet"
	}

	lines := make([]string, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		lines = append(lines, m.renderMessage(snap, msg))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMessage(snap engine.Snapshot, msg types.Message) string {
	author := msg.AuthorName
	if author == "" {
		author = msg.AuthorID
	}

	style := authorStyle
	if msg.Pending() {
		ts := time.UnixMilli(msg.CreatedAt).Format("15:04")
		return pendingStyle.Render(fmt.Sprintf("%s %s: %s (sending...)", ts, author, msg.Content))
	}
	if msg.AuthorID == m.eng.Self().ID {
		style = selfStyle
	}

	ts := time.UnixMilli(msg.CreatedAt).Format("15:04")
	line := fmt.Sprintf("%s %s: %s", ts, style.Render(author), msg.Content)
	if msg.UpdatedAt != nil {
		line += " " + editedStyle.Render("(edited)")
	}
	if len(msg.Reactions) > 0 {
		line += " " + reactionStyle.Render(renderReactions(msg.Reactions))
	}
	if snap.Boundary.OthersReadID >= msg.ID && msg.ID > 0 {
		line += " " + seenStyle.Render("✓")
	}
	if m.targetID != 0 && msg.ID == m.targetID {
		line = highlightStyle.Render(line)
	}
	return line
}

func renderReactions(reactions []types.Reaction) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(reactions))
	for _, r := range reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	parts := make([]string, 0, len(order))
	for _, emoji := range order {
		parts = append(parts, fmt.Sprintf("[:%s: %d]", emoji, counts[emoji]))
	}
	return strings.Join(parts, " ")
}

func containsID(snap engine.Snapshot, id int64) bool {
	for _, msg := range snap.Messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// scrollToMessage positions the viewport so the target message is visible.
func (m *Model) scrollToMessage(snap engine.Snapshot, id int64) {
	for i, msg := range snap.Messages {
		if msg.ID == id {
			offset := i - m.vp.Height/2
			if offset < 0 {
				offset = 0
			}
			m.vp.SetYOffset(offset)
			return
		}
	}
}
