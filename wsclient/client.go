// Package wsclient is the public surface of a client-side WebSocket
// implementation (RFC 6455): dial a ws:// or wss:// URL, exchange the
// opening handshake, then send and receive Text/Binary messages over a
// connection that reassembles fragments, answers pings, and shuts down on
// either side's Close frame.
package wsclient

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/wsclient/internal/wsconn"
	"github.com/yourusername/wsclient/transport"
)

// Option configures a Client constructed by Dial.
type Option func(*options)

type options struct {
	cfg          wsconn.Config
	subprotocols []string
	logger       zerolog.Logger
}

// WithMaxFrameSize overrides the default 100 MiB data frame payload cap.
func WithMaxFrameSize(n uint64) Option {
	return func(o *options) { o.cfg.Frame.MaxFrameSize = n }
}

// WithMaxControlFrameSize overrides the control frame payload cap. Per RFC
// 6455 this must never exceed 125; values above 125 are clamped.
func WithMaxControlFrameSize(n uint64) Option {
	return func(o *options) {
		if n > 125 {
			n = 125
		}
		o.cfg.Frame.MaxControlFrameSize = n
	}
}

// WithPingInterval overrides the default 30s keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.PingInterval = d }
}

// WithIdleTimeout overrides the default 60s no-traffic threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.IdleTimeout = d }
}

// WithSubprotocols offers the given values, in preference order, via
// Sec-WebSocket-Protocol during the handshake.
func WithSubprotocols(protos ...string) Option {
	return func(o *options) { o.subprotocols = protos }
}

// WithLogger attaches structured logging of connection lifecycle events.
// The zero value (the default) discards all log output.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func defaultOptions() options {
	return options{
		cfg:    wsconn.DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// Client is a single WebSocket connection.
type Client struct {
	conn *wsconn.Conn
}

// Dial connects to rawURL (ws:// or wss://), performs the opening
// handshake, and returns a ready-to-use Client. Dial honors ctx for both
// the TCP connect and the handshake round-trip; on cancellation the
// transport is torn down and Dial returns ctx.Err().
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t, err := transport.Dial(ctx, target)
	if err != nil {
		return nil, err
	}

	conn := wsconn.New(o.cfg, o.logger)
	if _, err := conn.Connect(ctx, t, target, o.subprotocols); err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

// State reports the connection's current lifecycle state.
func (c *Client) State() wsconn.State { return c.conn.State() }

// Subprotocol returns the negotiated subprotocol, or empty if none.
func (c *Client) Subprotocol() string { return c.conn.Subprotocol() }

// SendText sends s as a single Text frame.
func (c *Client) SendText(ctx context.Context, s string) error {
	return c.conn.SendText(ctx, s)
}

// SendBinary sends b as a single Binary frame.
func (c *Client) SendBinary(ctx context.Context, b []byte) error {
	return c.conn.SendBinary(ctx, b)
}

// Close requests an orderly shutdown with the given status code and reason.
// code == 0 means "no code"; reason may be empty. Idempotent.
func (c *Client) Close(code uint16, reason string) error {
	return c.conn.Close(code, reason)
}

// Messages returns the stream of received messages, in completion order,
// terminated by exactly one TerminalError item (or simply closed, on a
// clean shutdown).
func (c *Client) Messages() <-chan Message {
	return c.conn.Messages()
}
