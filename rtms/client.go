package rtms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	MinReconnectDelay = 1 * time.Second
	MaxReconnectDelay = 60 * time.Second
)

// Sink receives decoded upstream events. UpstreamLost follows only an
// UpstreamConnected. Implementations must not block.
type Sink interface {
	Deliver(Signal)
	UpstreamConnected()
	UpstreamLost(err error)
}

// Client holds the websocket link to the meeting platform and feeds every
// decoded message to a Sink.
type Client struct {
	URL    string
	Sink   Sink
	Logger *log.Logger

	// Reconnect keeps Run dialing after the link drops.
	Reconnect bool

	dialer websocket.Dialer
}

func NewClient(upstreamURL string, sink Sink, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("upstream url must be ws:// or wss://, got %q", upstreamURL)
	}

	return &Client{
		URL:       upstreamURL,
		Sink:      sink,
		Logger:    logger,
		Reconnect: true,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Run connects and serves the upstream link until ctx is done. Without
// Reconnect it returns after the first disconnect.
func (c *Client) Run(ctx context.Context) error {
	delay := MinReconnectDelay
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.Reconnect {
			return err
		}

		c.Logger.Warn("upstream lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, MaxReconnectDelay)
	}
}

func (c *Client) serve(ctx context.Context) error {
	// Dial failures are not reported to the sink.
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	c.Logger.Info("upstream connected", "url", c.URL)
	c.Sink.UpstreamConnected()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.Logger.Info("upstream disconnected", "error", err)
			c.Sink.UpstreamLost(err)
			if err == nil {
				err = errors.New("upstream closed")
			}
			return err
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	sig, err := ParseSignal(data)
	if err != nil {
		c.Logger.Warn("bad upstream message", "error", err)
		return
	}
	if ig, ok := sig.(Ignored); ok {
		c.Logger.Debug("ignoring upstream message", "kind", ig.Kind)
		return
	}
	c.Sink.Deliver(sig)
}
