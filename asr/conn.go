package asr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	PingInterval = 30 * time.Second
	WriteTimeout = 10 * time.Second
)

// ErrClosed is returned by Receive and Send once the connection is gone,
// whichever side closed it.
var ErrClosed = errors.New("asr connection closed")

// Role selects what the backend does with a connection.
type Role string

const (
	// RoleSpeaker connections carry one speaker's raw audio.
	RoleSpeaker Role = "speaker"
	// RoleViewer connections receive transcript messages.
	RoleViewer Role = "viewer"
)

// Conn is one outbound backend connection.
type Conn interface {
	// Send writes one binary message. An empty message marks end-of-speech.
	Send(data []byte) error
	// Receive blocks for the next message from the backend.
	Receive() ([]byte, error)
	// Close is idempotent.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, role Role) (Conn, error)
}

type WebSocketDialer struct {
	base    *url.URL
	timeout time.Duration
	logger  *log.Logger
}

func NewWebSocketDialer(
	backendURL string,
	timeout time.Duration,
	logger *log.Logger,
) (*WebSocketDialer, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("backend url must be ws:// or wss://, got %q", backendURL)
	}

	return &WebSocketDialer{
		base:    u,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// URL returns the backend address for role.
func (d *WebSocketDialer) URL(role Role) string {
	u := *d.base
	q := u.Query()
	q.Set("role", string(role))
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *WebSocketDialer) Dial(ctx context.Context, role Role) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.timeout,
	}

	target := d.URL(role)
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	d.logger.Debug("dial", "role", role, "url", target)

	c := &wsConn{
		ws:   ws,
		done: make(chan struct{}),
		log:  d.logger,
	}
	go c.keepAlive()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	log     *log.Logger

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			if websocket.IsCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("receive: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.ws.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(WriteTimeout),
			)
			if err != nil {
				c.log.Debug("ping", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		// Best effort; the peer may already be gone.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
