// Package wsconn implements the per-connection WebSocket protocol state
// machine: opening handshake, Open-state data/control dispatch, fragment
// reassembly, keepalive, and orderly shutdown. A single actor goroutine
// serializes every state transition; a reader goroutine feeds it decoded
// frames and a timer goroutine feeds it keepalive ticks, so the state mutex
// is never held across a blocking transport call; only writeMu, which
// serializes outbound frames, is held while a write is in progress.
package wsconn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/wsclient/internal/handshake"
	"github.com/yourusername/wsclient/internal/wsframe"
	"github.com/yourusername/wsclient/transport"
)

// Config bounds the codec and governs keepalive timing.
type Config struct {
	Frame        wsframe.Config
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns a 100 MiB frame cap, 125-byte control frame cap,
// a 30s ping interval, and a 60s idle timeout.
func DefaultConfig() Config {
	return Config{
		Frame:        wsframe.DefaultConfig(),
		PingInterval: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// MessageKind tags the variant of a Message delivered on the stream.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
	MessageTerminalError
)

// Message is one item on the message stream surface: a completed text or
// binary message, or the single terminal error that ends the stream.
type Message struct {
	Kind      MessageKind
	Text      string
	Binary    []byte
	Err       error
	CloseCode uint16
}

// eventKind enumerates the events the actor loop reacts to.
type eventKind int

const (
	evFrame eventKind = iota
	evSend
	evClose
	evTimer
	evTransportClosed
)

type event struct {
	kind        eventKind
	frame       *wsframe.Frame
	decodeErr   error
	sendOpcode  wsframe.Opcode
	sendPayload []byte
	closeCode   uint16
	closeReason string
	transportErr error
	done        chan error
}

// Conn drives one WebSocket connection's lifecycle.
type Conn struct {
	cfg Config
	log zerolog.Logger
	id  uuid.UUID

	transport transport.Transport

	mu       sync.Mutex
	state    State
	lastRx   time.Time
	closeSent bool

	frag fragmentState

	writeMu sync.Mutex

	events   chan event
	messages chan Message
	done     chan struct{}
	closeOnce sync.Once

	negotiatedSubprotocol string
}

// New creates a Conn in state Disconnected.
func New(cfg Config, log zerolog.Logger) *Conn {
	return &Conn{
		cfg:      cfg,
		log:      log,
		id:       uuid.New(),
		state:    Disconnected,
		events:   make(chan event, 16),
		messages: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the single-consumer message stream. It is closed exactly
// once, when the connection reaches Closed.
func (c *Conn) Messages() <-chan Message {
	return c.messages
}

// Subprotocol returns the subprotocol negotiated during the handshake, or
// empty if none was offered or accepted.
func (c *Conn) Subprotocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedSubprotocol
}

// Connect drives Disconnected -> Connecting -> Open: it sends the client
// opening request over t and validates the server's response. On success it
// starts the reader and keepalive goroutines and returns the negotiated
// subprotocol. On failure the connection returns to Disconnected and t is
// closed; nothing further is sent.
//
// ctx cancellation aborts the handshake promptly; the transport is torn
// down and Connect returns ctx.Err().
func (c *Conn) Connect(ctx context.Context, t transport.Transport, target *url.URL, subprotocols []string) (string, error) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return "", ErrInvalidState
	}
	c.state = Connecting
	c.mu.Unlock()

	c.transport = t

	key, err := handshake.GenerateKey()
	if err != nil {
		c.backToDisconnected()
		return "", err
	}

	type result struct {
		subprotocol string
		buffered    []byte
		err         error
	}
	resCh := make(chan result, 1)

	go func() {
		req := handshake.BuildRequest(target, key, subprotocols)
		if err := t.SendAll(req); err != nil {
			resCh <- result{err: err}
			return
		}
		br := bufio.NewReader(transport.NewReader(t))
		subprotocol, err := handshake.VerifyResponse(br, key)
		if err != nil {
			resCh <- result{err: err}
			return
		}
		buffered := drainBuffered(br)
		resCh <- result{subprotocol: subprotocol, buffered: buffered}
	}()

	select {
	case <-ctx.Done():
		t.Close()
		c.backToDisconnected()
		return "", ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			t.Close()
			c.backToDisconnected()
			return "", fmt.Errorf("%w: %v", handshake.ErrHandshakeFailed, res.err)
		}

		c.mu.Lock()
		c.state = Open
		c.lastRx = time.Now()
		c.negotiatedSubprotocol = res.subprotocol
		c.mu.Unlock()

		c.log.Info().Str("conn_id", c.id.String()).Str("subprotocol", res.subprotocol).Msg("websocket handshake complete")

		go c.runActor()
		go c.runReader(res.buffered)
		go c.runTimer()

		return res.subprotocol, nil
	}
}

func (c *Conn) backToDisconnected() {
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}

func drainBuffered(br *bufio.Reader) []byte {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	_, _ = br.Read(buf)
	return buf
}

// SendText sends a single-frame Text message. No fragmentation on send, per
// design: the implementation always emits one frame per application-level
// send.
func (c *Conn) SendText(ctx context.Context, s string) error {
	return c.send(ctx, wsframe.OpcodeText, []byte(s))
}

// SendBinary sends a single-frame Binary message.
func (c *Conn) SendBinary(ctx context.Context, b []byte) error {
	return c.send(ctx, wsframe.OpcodeBinary, b)
}

func (c *Conn) send(ctx context.Context, opcode wsframe.Opcode, payload []byte) error {
	done := make(chan error, 1)
	ev := event{kind: evSend, sendOpcode: opcode, sendPayload: payload, done: done}
	if err := c.postEvent(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

// Close requests an orderly shutdown with the given status code and reason.
// It is idempotent: calling it again after Closed is a no-op. code==0 means
// "no code" and is substituted with 1000 on the wire, per the outgoing
// close rule.
func (c *Conn) Close(code uint16, reason string) error {
	done := make(chan error, 1)
	ev := event{kind: evClose, closeCode: code, closeReason: reason, done: done}
	select {
	case c.events <- ev:
	case <-c.done:
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-c.done:
		return nil
	}
}

func (c *Conn) postEvent(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

// runReader pulls bytes from the transport, decodes frames, and posts them
// to the actor in arrival order. It owns the partial-frame accumulator
// exclusively.
func (c *Conn) runReader(seed []byte) {
	acc := seed
	buf := make([]byte, 64*1024)

	for {
		for {
			frame, remaining, err := wsframe.Decode(acc, c.cfg.Frame)
			if errors.Is(err, wsframe.ErrInsufficientData) {
				break
			}
			if err != nil {
				c.events <- event{kind: evFrame, decodeErr: err}
				return
			}
			acc = remaining
			c.events <- event{kind: evFrame, frame: frame}
		}

		n, err := c.transport.RecvSome(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			continue
		}
		if err != nil {
			c.events <- event{kind: evTransportClosed, transportErr: err}
			return
		}
	}
}

func (c *Conn) runTimer() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case c.events <- event{kind: evTimer}:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

// runActor is the single actor loop: every mutation of connection state,
// the fragmentation buffer, and the transport happens here, in arrival
// order. Besides the channel receive, it blocks only on transport writes
// and on handing messages to the message stream.
func (c *Conn) runActor() {
	for ev := range c.events {
		switch ev.kind {
		case evFrame:
			c.handleFrameEvent(ev)
		case evSend:
			c.handleSendEvent(ev)
		case evClose:
			c.handleCloseEvent(ev)
		case evTimer:
			c.handleTimerEvent()
		case evTransportClosed:
			c.handleTransportClosed(ev)
		}
		if c.State() == Closed {
			return
		}
	}
}

func (c *Conn) handleFrameEvent(ev event) {
	st := c.State()
	if st != Open && st != Closing {
		return
	}

	c.mu.Lock()
	c.lastRx = time.Now()
	c.mu.Unlock()

	if ev.decodeErr != nil {
		code := closeCodeForError(ev.decodeErr)
		c.log.Warn().Str("conn_id", c.id.String()).Err(ev.decodeErr).Uint16("close_code", code).Msg("frame decode error")
		c.closeImmediately(code, "", ev.decodeErr)
		return
	}

	f := ev.frame
	if f.Opcode.IsControl() {
		c.handleControlFrame(f)
		return
	}

	if st == Closing {
		// Only the reciprocal close frame and best-effort drain are
		// permitted while Closing; stray data frames are discarded.
		return
	}

	c.handleDataFrame(f)
}

func (c *Conn) handleDataFrame(f *wsframe.Frame) {
	switch {
	case f.Opcode == wsframe.OpcodeContinuation:
		if !c.frag.active {
			c.protocolViolation("continuation without an active fragmented message")
			return
		}
		if err := c.frag.append(f.Payload); err != nil {
			c.closeImmediately(closeCodeForError(err), "", err)
			return
		}
		if f.Fin {
			c.completeFragmentedMessage()
		}

	case f.Opcode == wsframe.OpcodeText, f.Opcode == wsframe.OpcodeBinary:
		if c.frag.active {
			c.protocolViolation("data frame received while a fragmented message is in progress")
			return
		}
		if f.Fin {
			c.deliverSingleFrameMessage(f)
			return
		}
		c.frag.start(f.Opcode)
		if err := c.frag.append(f.Payload); err != nil {
			c.closeImmediately(closeCodeForError(err), "", err)
		}
	}
}

func (c *Conn) deliverSingleFrameMessage(f *wsframe.Frame) {
	switch f.Opcode {
	case wsframe.OpcodeText:
		c.deliver(Message{Kind: MessageText, Text: string(f.Payload)})
	case wsframe.OpcodeBinary:
		c.deliver(Message{Kind: MessageBinary, Binary: f.Payload})
	}
}

func (c *Conn) completeFragmentedMessage() {
	payload, err := c.frag.finish()
	if err != nil {
		c.frag.reset()
		c.closeImmediately(closeCodeForError(err), "", err)
		return
	}

	switch c.frag.opcode {
	case wsframe.OpcodeText:
		c.deliver(Message{Kind: MessageText, Text: string(payload)})
	case wsframe.OpcodeBinary:
		out := make([]byte, len(payload))
		copy(out, payload)
		c.deliver(Message{Kind: MessageBinary, Binary: out})
	}
	c.frag.reset()
}

func (c *Conn) protocolViolation(reason string) {
	err := newProtocolError(CloseProtocolError, reason)
	c.log.Warn().Str("conn_id", c.id.String()).Str("reason", reason).Msg("protocol violation")
	c.closeImmediately(CloseProtocolError, reason, err)
}

func (c *Conn) handleControlFrame(f *wsframe.Frame) {
	switch f.Opcode {
	case wsframe.OpcodePing:
		c.sendControlFrame(wsframe.OpcodePong, f.Payload)

	case wsframe.OpcodePong:
		// Liveness timestamp already updated in handleFrameEvent.

	case wsframe.OpcodeClose:
		c.handlePeerClose(f.Payload)
	}
}

func (c *Conn) handlePeerClose(payload []byte) {
	var code uint16
	switch {
	case len(payload) == 0:
		code = CloseNoStatus // local sentinel only; nothing to echo

	case len(payload) == 1:
		c.closeImmediately(CloseProtocolError, "close payload of length 1", newProtocolError(CloseProtocolError, "truncated close code"))
		return

	default:
		code = parseCloseCode(payload)
		reason := payload[2:]
		if !utf8.Valid(reason) {
			c.closeImmediately(CloseInvalidPayload, "invalid UTF-8 in close reason", newProtocolError(CloseInvalidPayload, "invalid close reason"))
			return
		}
		if !validOnWireCloseCode(code) {
			c.closeImmediately(CloseProtocolError, "invalid close code", newProtocolError(CloseProtocolError, "invalid close code"))
			return
		}
	}

	echo := code
	if echo == CloseNoStatus {
		echo = CloseNormalClosure
	}
	if !c.hasSentClose() {
		c.sendControlFrame(wsframe.OpcodeClose, buildClosePayload(echo, "", c.cfg.Frame.MaxControlFrameSize))
	}
	c.finalize(nil, code)
}

func (c *Conn) handleSendEvent(ev event) {
	st := c.State()
	if st != Open {
		ev.done <- ErrNotConnected
		return
	}

	frame := &wsframe.Frame{Fin: true, Opcode: ev.sendOpcode, Masked: true, Payload: ev.sendPayload}
	out, err := wsframe.Encode(frame, c.cfg.Frame)
	if err == nil {
		err = c.writeRaw(out)
	}
	ev.done <- err
}

func (c *Conn) handleCloseEvent(ev event) {
	st := c.State()
	switch st {
	case Closed:
		ev.done <- nil
	case Disconnected, Connecting:
		ev.done <- ErrNotConnected
	default:
		code := outgoingCloseCode(ev.closeCode)
		payload := buildClosePayload(code, ev.closeReason, c.cfg.Frame.MaxControlFrameSize)
		c.sendControlFrame(wsframe.OpcodeClose, payload)
		c.setState(Closing)
		ev.done <- nil
	}
}

func (c *Conn) handleTimerEvent() {
	if c.State() != Open {
		return
	}

	c.mu.Lock()
	idle := time.Since(c.lastRx)
	c.mu.Unlock()

	if idle > c.cfg.IdleTimeout {
		c.log.Info().Str("conn_id", c.id.String()).Dur("idle", idle).Msg("idle timeout, closing")
		payload := buildClosePayload(CloseGoingAway, "timeout", c.cfg.Frame.MaxControlFrameSize)
		c.sendControlFrame(wsframe.OpcodeClose, payload)
		c.setState(Closing)
		return
	}

	c.sendControlFrame(wsframe.OpcodePing, nil)
}

func (c *Conn) handleTransportClosed(ev event) {
	c.finalize(ev.transportErr, CloseAbnormal)
}

// sendControlFrame masks and writes a control frame, logging but not
// propagating write failures: a failed write on an already-degraded
// transport will be reported via the next TransportClosed event instead.
func (c *Conn) sendControlFrame(opcode wsframe.Opcode, payload []byte) {
	frame := &wsframe.Frame{Fin: true, Opcode: opcode, Masked: true, Payload: payload}
	out, err := wsframe.Encode(frame, c.cfg.Frame)
	if err != nil {
		c.log.Error().Str("conn_id", c.id.String()).Err(err).Msg("encoding control frame")
		return
	}
	if opcode == wsframe.OpcodeClose {
		c.mu.Lock()
		c.closeSent = true
		c.mu.Unlock()
	}
	if err := c.writeRaw(out); err != nil {
		c.log.Debug().Str("conn_id", c.id.String()).Err(err).Msg("writing control frame")
	}
}

func (c *Conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.SendAll(b)
}

func (c *Conn) hasSentClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeSent
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// closeImmediately sends a best-effort Close frame and tears down the
// connection without waiting for a peer acknowledgement. Used for locally
// detected protocol errors and decode failures, where the wire is presumed
// desynchronized and further reciprocal handshaking cannot be relied on.
func (c *Conn) closeImmediately(code uint16, reason string, err error) {
	if !c.hasSentClose() {
		payload := buildClosePayload(outgoingCloseCode(code), reason, c.cfg.Frame.MaxControlFrameSize)
		c.sendControlFrame(wsframe.OpcodeClose, payload)
	}
	c.finalize(err, code)
}

// finalize transitions to Closed exactly once, closes the transport,
// delivers a terminal message if err is non-nil, and closes the message
// stream. Safe to call from multiple event paths; only the first call acts.
func (c *Conn) finalize(err error, code uint16) {
	c.closeOnce.Do(func() {
		c.setState(Closed)
		c.transport.Close()

		if err != nil {
			c.log.Warn().Str("conn_id", c.id.String()).Err(err).Uint16("close_code", code).Msg("connection closed with error")
			c.deliver(Message{Kind: MessageTerminalError, Err: err, CloseCode: code})
		} else {
			c.log.Info().Str("conn_id", c.id.String()).Uint16("close_code", code).Msg("connection closed")
		}

		c.frag.reset()
		close(c.messages)
		close(c.done)
	})
}

func (c *Conn) deliver(msg Message) {
	select {
	case c.messages <- msg:
	case <-c.done:
	}
}
