// Package crdt defines the capability interface the sync agent uses to talk
// to a CRDT engine, plus MapEngine, a last-writer-wins key/value engine that
// implements it.
//
// The agent only ever compares document clocks and hands documents back to
// the engine; everything else about a document is the engine's business.
package crdt

import (
	"errors"

	"github.com/google/uuid"
	"github.com/serroba/docsync/internal/clock"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrForeignDocument   = errors.New("document was not produced by this engine")
	ErrMissingDependency = errors.New("change depends on changes that have not been applied")
	ErrInvalidChange     = errors.New("invalid change")
	ErrInvalidMessage    = errors.New("invalid sync message")
	ErrSessionClosed     = errors.New("sync session is closed")
)

// Document is one immutable version of a replicated document.
type Document interface {
	// Clock returns the version vector of this version. Callers must not
	// modify it.
	Clock() clock.VersionVector

	// Get returns the current value stored under key.
	Get(key string) (string, bool)

	// Keys returns the live keys, sorted.
	Keys() []string
}

// Editor records edits inside a ChangeFunc.
type Editor interface {
	Set(key, value string)
	Delete(key string)

	// Get reads through pending edits made in the same change.
	Get(key string) (string, bool)
}

// ChangeFunc describes a local edit.
type ChangeFunc func(Editor)

// UpdateHandler is called whenever a session produces a new version of a
// document, either from a remote message or from SetDoc.
type UpdateHandler func(id string, doc Document)

// SessionConfig configures a sync session.
type SessionConfig struct {
	// Send delivers one outbound engine message to the remote peer.
	Send func(data []byte) error

	// Docs seeds the session with documents already held locally. They are
	// advertised on Open and do not trigger update handlers.
	Docs map[string]Document

	Logger *zap.Logger
}

// Session runs the engine's sync protocol for one connection. A session is
// not safe for concurrent use; callers drive it from a single goroutine.
type Session interface {
	// OnUpdate registers a handler for new document versions.
	OnUpdate(handler UpdateHandler)

	// Open starts the exchange, advertising any documents already held.
	Open() error

	// Receive feeds one inbound engine message.
	Receive(data []byte) error

	// SetDoc replaces the session's version of a document and propagates it.
	SetDoc(id string, doc Document) error

	// Doc returns the session's current version of a document.
	Doc(id string) (Document, bool)

	// Close stops the session. Further calls fail with ErrSessionClosed.
	Close()
}

// Engine is the CRDT capability consumed by the sync agent.
type Engine interface {
	// Actor returns the actor ID that local edits are attributed to.
	Actor() string

	// New returns an empty document.
	New() Document

	// ApplyEdits produces a new version from doc plus the edits made by fn.
	ApplyEdits(doc Document, fn ChangeFunc) (Document, error)

	// Merge returns a version containing every change of a and b.
	Merge(a, b Document) (Document, error)

	Encode(doc Document) ([]byte, error)
	Decode(data []byte) (Document, error)

	// NewSession binds a fresh sync session.
	NewSession(cfg SessionConfig) Session
}

// NewActorID returns a random actor ID.
func NewActorID() string {
	return uuid.NewString()
}
