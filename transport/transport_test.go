package transport

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialWS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		accepted <- conn
	}()

	u, err := url.Parse("ws://" + ln.Addr().String() + "/path")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := Dial(ctx, u)
	require.NoError(t, err)
	defer tr.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, tr.SendAll([]byte("hello")))

	buf := make([]byte, 5)
	_, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestDialRejectsUnsupportedScheme(t *testing.T) {
	u, err := url.Parse("http://example.com")
	require.NoError(t, err)
	_, err = Dial(context.Background(), u)
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}
