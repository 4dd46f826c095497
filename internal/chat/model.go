// Package chat is the terminal view over a session engine. It contains no
// synchronization logic: it consumes read-only snapshots and calls the
// engine's imperative entry points, translating scroll anchor decisions into
// viewport moves.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/avenmora/kestrel/internal/engine"
	"github.com/avenmora/kestrel/internal/scroll"
)

// typingIdle is how long after the last keystroke we report typing:false.
const typingIdle = 3 * time.Second

// refreshMsg tells the model a fresh engine snapshot is available.
type refreshMsg struct{}

// typingIdleMsg fires when the local user stopped typing.
type typingIdleMsg struct{ at time.Time }

// pageLoadedMsg reports a finished history fetch.
type pageLoadedMsg struct{ err error }

// Model is the bubbletea model for the chat view.
type Model struct {
	eng      *engine.Engine
	updates  <-chan struct{}
	channels []string
	chanIdx  int

	vp    viewport.Model
	ta    textarea.Model
	ready bool

	// initialLoad is true until the first snapshot for the current channel
	// has painted and settled.
	initialLoad bool
	prevLines   int
	loadingPage bool
	targetID    int64

	lastKeystroke time.Time
	typingSent    bool

	status string
	err    error

	width  int
	height int
}

// New builds the chat model. updates signals that the engine has a fresh
// snapshot; the model drains it via a long-running tea.Cmd.
func New(eng *engine.Engine, channels []string, updates <-chan struct{}) Model {
	ta := textarea.New()
	ta.Placeholder = "Message"
	ta.Prompt = "> "
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Focus()

	m := Model{
		eng:         eng,
		updates:     updates,
		channels:    channels,
		ta:          ta,
		initialLoad: true,
	}
	if len(channels) > 0 {
		eng.SetActive(channels[0])
	}
	return m
}

// SetTarget requests a deep-link scroll to a specific message id.
func (m *Model) SetTarget(id int64) {
	m.targetID = id
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.loadOlderPage(), textarea.Blink)
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return refreshMsg{}
	}
}

func (m Model) loadOlderPage() tea.Cmd {
	eng := m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := eng.LoadOlderPage(ctx)
		return pageLoadedMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		if !m.ready {
			m.ready = true
		}
		m.refresh()

	case refreshMsg:
		m.refresh()
		cmds = append(cmds, m.waitForUpdate())

	case pageLoadedMsg:
		m.loadingPage = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
		}
		m.refresh()

	case typingIdleMsg:
		if m.typingSent && !m.lastKeystroke.After(msg.at) {
			m.eng.SetTyping(false)
			m.typingSent = false
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.typingSent {
				m.eng.SetTyping(false)
			}
			return m, tea.Quit

		case tea.KeyEnter:
			content := strings.TrimSpace(m.ta.Value())
			if content != "" {
				if _, err := m.eng.SendMessage(content, nil); err != nil {
					m.err = err
					m.status = "send failed, press enter to retry"
				} else {
					m.ta.Reset()
					m.err = nil
					m.status = ""
				}
				if m.typingSent {
					m.eng.SetTyping(false)
					m.typingSent = false
				}
				m.refresh()
			}
			return m, tea.Batch(cmds...)

		case tea.KeyTab:
			if len(m.channels) > 1 {
				m.chanIdx = (m.chanIdx + 1) % len(m.channels)
				m.switchChannel(m.channels[m.chanIdx])
				cmds = append(cmds, m.loadOlderPage())
			}
			return m, tea.Batch(cmds...)

		case tea.KeyPgUp:
			if m.vp.AtTop() && !m.loadingPage && !m.eng.Snapshot().EndOfHistory {
				m.loadingPage = true
				cmds = append(cmds, m.loadOlderPage())
			}

		default:
			// A content keystroke: emit the typing indicator, throttled by
			// only re-sending after idle.
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace || msg.Type == tea.KeyBackspace {
				m.lastKeystroke = time.Now()
				if !m.typingSent {
					m.eng.SetTyping(true)
					m.typingSent = true
				}
				at := m.lastKeystroke
				cmds = append(cmds, tea.Tick(typingIdle, func(time.Time) tea.Msg {
					return typingIdleMsg{at: at}
				}))
			}
		}
	}

	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// switchChannel changes the active view and resets view-scoped state.
func (m *Model) switchChannel(channelID string) {
	m.eng.SetActive(channelID)
	m.eng.MarkChannelRead()
	m.initialLoad = true
	m.prevLines = 0
	m.targetID = 0
	m.err = nil
	m.refresh()
}

// refresh re-renders the message log from a fresh snapshot and applies the
// scroll anchor decision.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	snap := m.eng.Snapshot()
	body := m.renderMessages(snap)
	lines := strings.Count(body, "\n") + 1

	wasAtBottom := m.vp.AtBottom()
	m.vp.SetContent(body)

	decision := scroll.Decide(snap.LastDelta, scroll.View{
		InitialLoad:       m.initialLoad,
		Settled:           m.ready && len(snap.Messages) > 0,
		AtBottom:          wasAtBottom,
		PrependedHeightPx: lines - m.prevLines,
		TargetID:          m.targetID,
		TargetLoaded:      m.targetID != 0 && containsID(snap, m.targetID),
	})
	switch decision.Kind {
	case scroll.Bottom:
		m.vp.GotoBottom()
		if m.initialLoad && len(snap.Messages) > 0 {
			m.initialLoad = false
			m.eng.MarkChannelRead()
		}
	case scroll.PreserveOffset:
		m.vp.SetYOffset(m.vp.YOffset + decision.OffsetPx)
	case scroll.Highlight:
		m.scrollToMessage(snap, decision.MessageID)
		m.targetID = 0
	}
	if wasAtBottom && decision.Kind == scroll.Bottom && !m.initialLoad {
		// Following the conversation at the bottom counts as reading.
		m.eng.MarkChannelRead()
	}
	m.prevLines = lines
}

func (m *Model) layout() {
	headerHeight := 1
	footerHeight := 3
	m.vp.Width = m.width
	m.vp.Height = m.height - headerHeight - footerHeight
	if m.vp.Height < 1 {
		m.vp.Height = 1
	}
	m.ta.SetWidth(m.width - 2)
}
