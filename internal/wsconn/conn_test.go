package wsconn_test

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/wsclient/internal/handshake"
	"github.com/yourusername/wsclient/internal/wsconn"
	"github.com/yourusername/wsclient/internal/wsframe"
	"github.com/yourusername/wsclient/transport"
)

func dialPair(t *testing.T) (client *wsconn.Conn, server net.Conn, serverReader *bufio.Reader) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		accepted <- conn
	}()

	u, err := url.Parse("ws://" + ln.Addr().String() + "/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr, err := transport.Dial(ctx, u)
	require.NoError(t, err)

	cfg := wsconn.DefaultConfig()
	cfg.PingInterval = time.Hour // tests drive pings manually via injected frames
	cfg.IdleTimeout = time.Hour

	conn := wsconn.New(cfg, zerolog.Nop())

	connectDone := make(chan error, 1)
	go func() {
		_, err := conn.Connect(ctx, tr, u, nil)
		connectDone <- err
	}()

	srvConn := <-accepted
	br := bufio.NewReader(srvConn)
	req, err := http.ReadRequest(br)
	require.NoError(t, err)
	key := req.Header.Get("Sec-WebSocket-Key")
	accept := handshake.AcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	_, err = srvConn.Write([]byte(resp))
	require.NoError(t, err)

	require.NoError(t, <-connectDone)
	require.Equal(t, wsconn.Open, conn.State())

	return conn, srvConn, br
}

func writeFrame(t *testing.T, conn net.Conn, opcode wsframe.Opcode, payload []byte, fin bool) {
	t.Helper()
	out, err := wsframe.Encode(&wsframe.Frame{Fin: fin, Opcode: opcode, Payload: payload}, wsframe.DefaultConfig())
	require.NoError(t, err)
	_, err = conn.Write(out)
	require.NoError(t, err)
}

func readFrame(t *testing.T, br *bufio.Reader) *wsframe.Frame {
	t.Helper()
	var acc []byte
	buf := make([]byte, 4096)
	for {
		f, _, err := wsframe.Decode(acc, wsframe.DefaultConfig())
		if err == nil {
			return f
		}
		n, rerr := br.Read(buf)
		require.NoError(t, rerr)
		acc = append(acc, buf[:n]...)
	}
}

// TestFragmentationWithInterleavedPing reproduces scenario 7: a Text
// message split into two fragments with a Ping sandwiched between them
// delivers one assembled Text("Hello") message, and the Ping is answered
// with a Pong carrying the same payload, without disturbing the
// fragmentation buffer.
func TestFragmentationWithInterleavedPing(t *testing.T) {
	conn, srv, br := dialPair(t)
	defer conn.Close(1000, "")
	defer srv.Close()

	writeFrame(t, srv, wsframe.OpcodeText, []byte("He"), false)
	writeFrame(t, srv, wsframe.OpcodePing, []byte("x"), true)
	writeFrame(t, srv, wsframe.OpcodeContinuation, []byte("llo"), true)

	pong := readFrame(t, br)
	require.Equal(t, wsframe.OpcodePong, pong.Opcode)
	require.Equal(t, "x", string(pong.Payload))

	select {
	case msg := <-conn.Messages():
		require.Equal(t, wsconn.MessageText, msg.Kind)
		require.Equal(t, "Hello", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled message")
	}
}

// TestPeerCloseHandshake reproduces scenario 8: the peer sends Close(1000)
// and the client responds with Close(1000), then reaches Closed.
func TestPeerCloseHandshake(t *testing.T) {
	conn, srv, br := dialPair(t)
	defer srv.Close()

	closePayload := []byte{0x03, 0xE8} // 1000, big-endian
	writeFrame(t, srv, wsframe.OpcodeClose, closePayload, true)

	echoed := readFrame(t, br)
	require.Equal(t, wsframe.OpcodeClose, echoed.Opcode)
	require.Len(t, echoed.Payload, 2)
	require.Equal(t, uint16(1000), uint16(echoed.Payload[0])<<8|uint16(echoed.Payload[1]))

	require.Eventually(t, func() bool {
		return conn.State() == wsconn.Closed
	}, 2*time.Second, 10*time.Millisecond)
}

// TestContinuationWithoutActiveMessageIsProtocolError covers the Open |
// Continuation while Idle transition: the connection closes with 1002.
func TestContinuationWithoutActiveMessageIsProtocolError(t *testing.T) {
	conn, srv, br := dialPair(t)
	defer srv.Close()

	writeFrame(t, srv, wsframe.OpcodeContinuation, []byte("oops"), true)

	echoed := readFrame(t, br)
	require.Equal(t, wsframe.OpcodeClose, echoed.Opcode)
	require.GreaterOrEqual(t, len(echoed.Payload), 2)
	code := uint16(echoed.Payload[0])<<8 | uint16(echoed.Payload[1])
	require.Equal(t, wsconn.CloseProtocolError, code)

	require.Eventually(t, func() bool {
		return conn.State() == wsconn.Closed
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSplitUTF8AcrossFragmentsIsAccepted exercises the fixed behavior
// flagged in the design notes: a legal UTF-8 codepoint split across a
// fragment boundary must not be rejected.
func TestSplitUTF8AcrossFragmentsIsAccepted(t *testing.T) {
	conn, srv, _ := dialPair(t)
	defer conn.Close(1000, "")
	defer srv.Close()

	full := []byte("caf\xc3\xa9") // "café"; é is 0xC3 0xA9
	writeFrame(t, srv, wsframe.OpcodeText, full[:len(full)-1], false)
	writeFrame(t, srv, wsframe.OpcodeContinuation, full[len(full)-1:], true)

	select {
	case msg := <-conn.Messages():
		require.Equal(t, wsconn.MessageText, msg.Kind)
		require.Equal(t, "café", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled message")
	}
}
