package command

import (
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
	"github.com/spf13/cobra"

	"github.com/avenmora/kestrel/internal/chat"
	"github.com/avenmora/kestrel/internal/engine"
	"github.com/avenmora/kestrel/internal/transport"
	"github.com/avenmora/kestrel/internal/types"
)

// NewConnectCmd opens the chat view against a server.
func NewConnectCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		userID    string
		userName  string
		channels  []string
		targetID  int64
		noNotify  bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a chat server and open the terminal view",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = os.Getenv("KESTREL_URL")
			}
			if token == "" {
				token = os.Getenv("KESTREL_TOKEN")
			}
			if serverURL == "" {
				return fmt.Errorf("server url required (--url or KESTREL_URL)")
			}
			if userID == "" {
				return fmt.Errorf("user id required (--user)")
			}
			if len(channels) == 0 {
				return fmt.Errorf("at least one channel required (--channel)")
			}
			if userName == "" {
				userName = userID
			}

			logger := log.New(os.Stderr, "", log.LstdFlags)

			history, err := transport.NewClient(serverURL, token)
			if err != nil {
				return err
			}
			conn, err := transport.Dial(websocketURL(serverURL), token, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			updates := make(chan struct{}, 1)
			eng := engine.New(engine.Options{
				Self:    types.User{ID: userID, DisplayName: userName},
				Conn:    conn,
				History: history,
				Logger:  logger,
				OnUpdate: func() {
					select {
					case updates <- struct{}{}:
					default:
					}
				},
				OnUnread: func(channelID string, msg types.Message) {
					if noNotify {
						return
					}
					author := msg.AuthorName
					if author == "" {
						author = msg.AuthorID
					}
					_ = beeep.Notify("#"+channelID, author+": "+msg.Content, "")
				},
			})
			defer eng.Close()

			model := chat.New(eng, channels, updates)
			if targetID != 0 {
				model.SetTarget(targetID)
			}

			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("chat view: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "", "server base url (or KESTREL_URL)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (or KESTREL_TOKEN)")
	cmd.Flags().StringVar(&userID, "user", "", "local user id")
	cmd.Flags().StringVar(&userName, "name", "", "display name (defaults to user id)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel to join (repeatable; first is active)")
	cmd.Flags().Int64Var(&targetID, "message", 0, "deep-link: scroll to this message id on load")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "disable desktop notifications")

	return cmd
}

// websocketURL derives the live connection endpoint from the REST base url.
func websocketURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}
