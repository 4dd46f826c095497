package transport

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 10 * time.Second
	// pongWait is how long we tolerate silence before treating the
	// connection as dead.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSConn is the live connection over a websocket. It runs a read pump that
// delivers raw payloads in arrival order and serializes writes with a mutex.
// It performs no reconnection: when the socket dies it emits a disconnect
// notice and closes the event channel.
type WSConn struct {
	conn    *websocket.Conn
	events  chan []byte
	notices chan Notice
	logger  *log.Logger
	done    chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

// Dial opens a websocket connection and starts its pumps. The token, when
// non-empty, is sent as a bearer Authorization header.
func Dial(wsURL, token string, logger *log.Logger) (*WSConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &WSConn{
		conn:    conn,
		events:  make(chan []byte, 64),
		notices: make(chan Notice, 4),
		logger:  logger,
		done:    make(chan struct{}),
	}
	c.notices <- NoticeConnected
	go c.readPump()
	go c.pingLoop()
	return c, nil
}

// Events delivers raw inbound payloads in arrival order.
func (c *WSConn) Events() <-chan []byte {
	return c.events
}

// Notices delivers connect/disconnect notifications.
func (c *WSConn) Notices() <-chan Notice {
	return c.notices
}

// Send writes one outbound command as JSON.
func (c *WSConn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close tears the connection down.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *WSConn) readPump() {
	defer func() {
		c.notices <- NoticeDisconnected
		close(c.events)
		_ = c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if c.logger != nil {
					c.logger.Printf("websocket read: %v", err)
				}
			}
			return
		}
		// The consumer may be gone while the socket is still open; a full
		// buffer must not wedge the pump.
		select {
		case c.events <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
