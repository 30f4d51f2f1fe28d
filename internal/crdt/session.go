package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/serroba/docsync/internal/clock"
	"go.uber.org/zap"
)

// syncMessage is the MapEngine wire message. A message with only a clock
// advertises what the sender holds; an empty clock for a document the
// sender lacks asks the peer to send everything.
type syncMessage struct {
	DocID   string              `json:"docId"`
	Clock   clock.VersionVector `json:"clock"`
	Changes []Change            `json:"changes,omitempty"`
}

// mapSession exchanges MapDocument changes with one peer.
type mapSession struct {
	send   func([]byte) error
	logger *zap.Logger

	docs     map[string]*MapDocument
	handlers []UpdateHandler

	// ourClock is what we last told the peer we have, theirClock what the
	// peer told us (or what we know we sent it).
	ourClock   map[string]clock.VersionVector
	theirClock map[string]clock.VersionVector

	open   bool
	closed bool
}

func newMapSession(send func([]byte) error, logger *zap.Logger) *mapSession {
	return &mapSession{
		send:       send,
		logger:     logger,
		docs:       make(map[string]*MapDocument),
		ourClock:   make(map[string]clock.VersionVector),
		theirClock: make(map[string]clock.VersionVector),
	}
}

func (s *mapSession) OnUpdate(handler UpdateHandler) {
	s.handlers = append(s.handlers, handler)
}

func (s *mapSession) Open() error {
	if s.closed {
		return ErrSessionClosed
	}

	s.open = true

	var errs []error

	for _, id := range slices.Sorted(maps.Keys(s.docs)) {
		if err := s.maybeSendChanges(id); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *mapSession) Close() {
	s.closed = true
	s.open = false
	s.handlers = nil
}

func (s *mapSession) Doc(id string) (Document, bool) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}

	return doc, true
}

func (s *mapSession) SetDoc(id string, doc Document) error {
	if s.closed {
		return ErrSessionClosed
	}

	d, ok := doc.(*MapDocument)
	if !ok || d == nil {
		return ErrForeignDocument
	}

	return s.setDoc(id, d)
}

func (s *mapSession) Receive(data []byte) error {
	if s.closed {
		return ErrSessionClosed
	}

	var msg syncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if msg.DocID == "" {
		return fmt.Errorf("%w: missing docId", ErrInvalidMessage)
	}

	if msg.Clock != nil {
		s.theirClock[msg.DocID] = clock.Merge(s.theirClock[msg.DocID], msg.Clock)
	}

	if len(msg.Changes) > 0 {
		return s.applyChanges(msg.DocID, msg.Changes)
	}

	if _, ok := s.docs[msg.DocID]; ok {
		return s.maybeSendChanges(msg.DocID)
	}

	if _, asked := s.ourClock[msg.DocID]; !asked {
		s.logger.Debug("requesting unknown document", zap.String("doc_id", msg.DocID))

		return s.sendMsg(msg.DocID, clock.VersionVector{}, nil)
	}

	return nil
}

func (s *mapSession) applyChanges(id string, changes []Change) error {
	base, ok := s.docs[id]
	if !ok {
		base = newMapDocument()
	}

	next, applied, err := base.withChanges(changes)
	if err != nil {
		return fmt.Errorf("doc %s: %w", id, err)
	}

	if applied == 0 {
		if ok {
			return s.maybeSendChanges(id)
		}

		return nil
	}

	return s.setDoc(id, next)
}

// setDoc stores doc, runs the update handlers, then tells the peer.
func (s *mapSession) setDoc(id string, doc *MapDocument) error {
	s.docs[id] = doc

	for _, h := range s.handlers {
		h(id, doc)
	}

	return s.maybeSendChanges(id)
}

func (s *mapSession) maybeSendChanges(id string) error {
	if !s.open || s.closed {
		return nil
	}

	doc, ok := s.docs[id]
	if !ok {
		return nil
	}

	current := doc.Clock()

	if their, known := s.theirClock[id]; known {
		if missing := doc.changesSince(their); len(missing) > 0 {
			s.theirClock[id] = clock.Merge(their, current)

			return s.sendMsg(id, current, missing)
		}
	}

	if ours, sent := s.ourClock[id]; !sent || !ours.Equal(current) {
		return s.sendMsg(id, current, nil)
	}

	return nil
}

func (s *mapSession) sendMsg(id string, v clock.VersionVector, changes []Change) error {
	s.ourClock[id] = clock.Merge(s.ourClock[id], v)

	data, err := json.Marshal(syncMessage{DocID: id, Clock: v, Changes: changes})
	if err != nil {
		return err
	}

	s.logger.Debug("sending sync message",
		zap.String("doc_id", id),
		zap.Stringer("clock", v),
		zap.Int("changes", len(changes)))

	return s.send(data)
}

// Ensure mapSession implements Session.
var _ Session = (*mapSession)(nil)
