// Package transport supplies the byte-stream collaborator the WebSocket
// core consumes: a TCP/TLS dial keyed off a ws:// or wss:// URL, exposed
// through the minimal send/recv/close contract the core depends on.
//
// TLS certificate policy, DNS resolution, and the transport itself are all
// explicitly out of the core's scope — this package is the thin external
// collaborator the core is handed at Connect time.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
)

// Transport is the byte-stream abstraction the WebSocket core depends on:
// reliable, ordered, full-duplex delivery with no framing of its own.
type Transport interface {
	// SendAll writes b in its entirety, blocking until done or an error
	// occurs. Frame atomicity on the wire depends on this never doing a
	// partial write that the caller can cancel out from under it.
	SendAll(b []byte) error

	// RecvSome reads at least one byte into buf, or returns an error (io.EOF
	// on a clean remote close).
	RecvSome(buf []byte) (int, error)

	Close() error
}

var ErrUnsupportedScheme = errors.New("transport: unsupported URL scheme (want ws or wss)")

// Dial opens a TCP connection (TLS, for wss) to target and returns it as a
// Transport. It honors ctx for the duration of the network dial and, for
// wss, the TLS handshake.
func Dial(ctx context.Context, target *url.URL) (Transport, error) {
	host, port, err := hostPort(target)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, port)
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	switch target.Scheme {
	case "ws":
		return &netTransport{conn: conn}, nil

	case "wss":
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: tls handshake: %w", err)
		}
		return &netTransport{conn: tlsConn}, nil

	default:
		conn.Close()
		return nil, ErrUnsupportedScheme
	}
}

func hostPort(u *url.URL) (host, port string, err error) {
	switch u.Scheme {
	case "ws":
		host, port = splitHostPort(u.Host, "80")
	case "wss":
		host, port = splitHostPort(u.Host, "443")
	default:
		return "", "", ErrUnsupportedScheme
	}
	return host, port, nil
}

func splitHostPort(hostport, defaultPort string) (host, port string) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	return h, p
}

// FromConn adapts an already-established net.Conn to Transport. This is
// for callers that need a custom dial path (a SOCKS/HTTP proxy, a
// pre-negotiated tunnel) that Dial's plain ws/wss dialer does not cover.
func FromConn(conn net.Conn) Transport {
	return &netTransport{conn: conn}
}

// netTransport adapts a net.Conn (plain or TLS) to Transport.
type netTransport struct {
	conn net.Conn
}

func (t *netTransport) SendAll(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *netTransport) RecvSome(buf []byte) (int, error) {
	return t.conn.Read(buf)
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// NewReader adapts a Transport to io.Reader, for use with bufio.Reader
// during the opening handshake (http.ReadResponse needs one). Each Read is
// passed straight through to RecvSome with the caller's buffer.
func NewReader(t Transport) io.Reader {
	return &transportReader{t: t}
}

type transportReader struct {
	t Transport
}

func (r *transportReader) Read(p []byte) (int, error) {
	return r.t.RecvSome(p)
}
