package collab

import (
	"github.com/serroba/docsync/internal/ws"
)

// Socket is the transport handle the client talks through.
type Socket interface {
	// Send writes one frame to the remote.
	Send(f ws.Frame) error

	// IsOpen reports whether a connection is currently established.
	IsOpen() bool

	// Listen registers the receiver of connection events. Only one
	// listener is kept.
	Listen(l Listener)

	// Disconnect drops the current connection. Whether the socket
	// reconnects afterwards is up to the socket.
	Disconnect() error
}

// Listener receives connection events from a Socket. Implementations must
// not block.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose()
	OnError(err error)
}
