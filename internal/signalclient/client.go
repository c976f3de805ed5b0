package signalclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	SignalPath = "/api/ws/signal"
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	url      string
	incoming chan domain.Message
	outgoing chan domain.Message
	done     chan struct{}

	mu        sync.RWMutex
	id        domain.MemberID
	closeOnce sync.Once
}

var _ core.SignalChannel = (*Client)(nil)

// URLFor turns a relay base URL (http, https, ws or wss) into the signaling
// endpoint URL.
func URLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + SignalPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Dial connects to the relay at base. The dial is bounded by ctx; on failure
// nothing is left open.
func Dial(ctx context.Context, base string) (*Client, error) {
	wsURL, err := URLFor(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRelayConnect, err)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRelayConnect, wsURL, err)
	}

	c := &Client{
		conn:     conn,
		url:      wsURL,
		incoming: make(chan domain.Message, 32),
		outgoing: make(chan domain.Message, 32),
		done:     make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "signalclient").Str("url", wsURL).Msg("connected to relay")
	return c, nil
}

// ID returns the member id assigned by the relay, empty until the welcome
// message arrives.
func (c *Client) ID() domain.MemberID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Client) URL() string { return c.url }

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg domain.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "signalclient").Msg("relay connection lost")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case domain.TypeWelcome:
			c.mu.Lock()
			c.id = msg.MemberID
			c.mu.Unlock()
			log.Debug().Str("module", "signalclient").Str("id", string(msg.MemberID)).Msg("welcome")
			continue
		case domain.TypePong:
			continue
		case domain.TypeError:
			log.Warn().Str("module", "signalclient").Str("error", msg.Error).Msg("relay error")
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("module", "signalclient").Msg("write failed")
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Send queues msg for the relay.
func (c *Client) Send(msg domain.Message) error {
	select {
	case <-c.done:
		return domain.ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return domain.ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan domain.Message {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

