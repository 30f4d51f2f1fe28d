package collab

import (
	"github.com/oklog/ulid/v2"
	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/ws"
	"go.uber.org/zap"
)

// Session is the state of one transport connection. It exists from open to
// close and owns the engine session bound for that connection.
type Session struct {
	ID string

	engine crdt.Session
	open   bool

	// adopted is set while the session serves a connection that was already
	// open when the client started listening.
	adopted bool
}

// newSession binds an engine session seeded with docs.
func newSession(engine crdt.Engine, docs map[string]crdt.Document, socket Socket, logger *zap.Logger) *Session {
	id := ulid.Make().String()

	return &Session{
		ID: id,
		engine: engine.NewSession(crdt.SessionConfig{
			Send: func(data []byte) error {
				return socket.Send(ws.SyncDataFrame(data))
			},
			Docs:   docs,
			Logger: logger.With(zap.String("session", id)),
		}),
	}
}

// Open reports whether the session is still live.
func (s *Session) Open() bool {
	return s != nil && s.open
}

func (s *Session) close() {
	if !s.open {
		return
	}

	s.open = false
	s.engine.Close()
}
