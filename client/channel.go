package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"palaver/models"
)

// EventChannel is the live-channel surface the synchronizer depends on.
// It is satisfied by *Channel and by test doubles.
type EventChannel interface {
	Connect(user string) error
	Reconnect() error
	Disconnect()
	Send(name string, data any) error
	OnEvent(name string, handler func(data json.RawMessage))
}

// Channel owns the single persistent websocket connection to the server.
// Inbound events are dispatched to registered handlers one at a time, in
// arrival order, from a single reader goroutine.
type Channel struct {
	wsURL string
	jar   http.CookieJar

	mu       sync.Mutex // guards conn, user and writes
	conn     *websocket.Conn
	user     string
	handlers map[string][]func(json.RawMessage)

	// OnDisconnect, if set, is called once when the read loop exits
	// with the error that ended it.
	OnDisconnect func(error)
}

// NewChannel builds a channel for the server at baseURL ("http://host:port").
// The cookie jar must carry the session cookie obtained at login.
func NewChannel(baseURL string, jar http.CookieJar) (*Channel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("channel: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return &Channel{
		wsURL:    u.String(),
		jar:      jar,
		handlers: make(map[string][]func(json.RawMessage)),
	}, nil
}

// OnEvent registers a handler for a named event. Handlers must be
// registered before Connect; each received event invokes its handlers
// once, in registration order.
func (c *Channel) OnEvent(name string, handler func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], handler)
}

// Connect opens the channel and announces presence. Calling it again for
// the same user while connected is a no-op.
func (c *Channel) Connect(user string) error {
	c.mu.Lock()
	if c.conn != nil && c.user == user {
		c.mu.Unlock()
		return nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := websocket.Dialer{Jar: c.jar}
	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		c.mu.Unlock()
		return &TransientError{Op: "channel connect", Err: err}
	}
	c.conn = conn
	c.user = user
	c.mu.Unlock()

	go c.readLoop(conn)

	return c.Send(models.EventUserConnected, user)
}

// Reconnect tears the connection down and dials again for the same user,
// re-announcing presence. Missed events are not replayed; callers re-fetch
// history if staleness matters.
func (c *Channel) Reconnect() error {
	c.mu.Lock()
	user := c.user
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if user == "" {
		return &TransientError{Op: "channel reconnect", Err: fmt.Errorf("never connected")}
	}
	return c.Connect(user)
}

// Disconnect closes the channel.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.user = ""
}

// Send writes a named event. Fire and forget: delivery is not guaranteed
// and no acknowledgment is surfaced.
func (c *Channel) Send(name string, data any) error {
	ev, err := models.NewEvent(name, data)
	if err != nil {
		return fmt.Errorf("channel send %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return &TransientError{Op: "channel send " + name, Err: fmt.Errorf("not connected")}
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		return &TransientError{Op: "channel send " + name, Err: err}
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			cb := c.OnDisconnect
			c.mu.Unlock()
			if cb != nil {
				cb(err)
			}
			return
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev models.Event) {
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[ev.Name]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(ev.Data)
	}
}
