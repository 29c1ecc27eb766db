package handshake

import (
	"bufio"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	u, err := url.Parse("ws://example.com/chat?x=1")
	require.NoError(t, err)

	req := BuildRequest(u, "dGhlIHNhbXBsZSBub25jZQ==", nil)
	s := string(req)

	require.Contains(t, s, "GET /chat?x=1 HTTP/1.1\r\n")
	require.Contains(t, s, "Host: example.com\r\n")
	require.Contains(t, s, "Upgrade: websocket\r\n")
	require.Contains(t, s, "Connection: Upgrade\r\n")
	require.Contains(t, s, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n")
	require.Contains(t, s, "Sec-WebSocket-Version: 13\r\n")
	require.True(t, strings.HasSuffix(s, "\r\n\r\n"))
}

func TestVerifyResponseAccepts(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	accept := AcceptKey(key)
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	_, err := VerifyResponse(bufio.NewReader(strings.NewReader(raw)), key)
	require.NoError(t, err)
}

func TestVerifyResponseRejectsBadAcceptKey(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: bm90dGhlcmlnaHRrZXk=\r\n\r\n"

	_, err := VerifyResponse(bufio.NewReader(strings.NewReader(raw)), key)
	require.ErrorIs(t, err, ErrInvalidAcceptKey)
}

func TestVerifyResponseRejectsWrongStatus(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	_, err := VerifyResponse(bufio.NewReader(strings.NewReader(raw)), "key")
	require.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}
