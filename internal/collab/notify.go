package collab

import (
	"encoding/json"

	"github.com/serroba/docsync/internal/crdt"
)

// Source says where an error notice came from.
type Source string

const (
	SourceRemote    Source = "remote"    // The remote sent an error frame
	SourceTransport Source = "transport" // The socket reported a failure
	SourceProtocol  Source = "protocol"  // An inbound frame was unusable
	SourceEngine    Source = "engine"    // The CRDT engine rejected a message or merge
	SourceStorage   Source = "storage"   // Persisting the document set failed
)

// DataReceived is emitted after a sync-data frame has been fed to the engine.
type DataReceived struct {
	Payload json.RawMessage
}

// ErrorNotice is emitted for every non-fatal and fatal error the client sees.
type ErrorNotice struct {
	Source  Source
	Message string
}

// Subscribed is emitted when the remote confirms subscriptions.
type Subscribed struct {
	IDs []string
}

// Handlers receives client notifications. Any field may be nil.
// Handlers run on the client's loop goroutine and must not call blocking
// Client methods.
type Handlers struct {
	OnData       func(DataReceived)
	OnError      func(ErrorNotice)
	OnSubscribed func(Subscribed)
	OnChange     func(id string, doc crdt.Document)
}

func (h Handlers) data(n DataReceived) {
	if h.OnData != nil {
		h.OnData(n)
	}
}

func (h Handlers) error(n ErrorNotice) {
	if h.OnError != nil {
		h.OnError(n)
	}
}

func (h Handlers) subscribed(n Subscribed) {
	if h.OnSubscribed != nil {
		h.OnSubscribed(n)
	}
}

func (h Handlers) change(id string, doc crdt.Document) {
	if h.OnChange != nil {
		h.OnChange(id, doc)
	}
}
