package wsclient

import "github.com/yourusername/wsclient/internal/wsconn"

// Message is one item on the received-message stream: a completed
// Text/Binary message, or the single terminal item that ends the stream.
type Message = wsconn.Message

// MessageKind tags which variant a Message is.
type MessageKind = wsconn.MessageKind

const (
	MessageText          = wsconn.MessageText
	MessageBinary        = wsconn.MessageBinary
	MessageTerminalError = wsconn.MessageTerminalError
)
