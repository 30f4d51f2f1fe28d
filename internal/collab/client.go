// Package collab is the sync agent: it keeps the local document set, binds
// a CRDT sync session to each transport connection, reconciles every update
// the engine reports, and persists the result.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/serroba/docsync/internal/clock"
	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/loop"
	"github.com/serroba/docsync/internal/storage"
	"github.com/serroba/docsync/internal/subscription"
	"github.com/serroba/docsync/internal/ws"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrMissingSocket = errors.New("socket is required")
)

// Ensure Client implements Listener.
var _ Listener = (*Client)(nil)

// Client keeps a set of documents in sync with one remote.
//
// All document, subscription and session state is touched only on the
// client's loop goroutine. Public methods either read thread-safe state
// directly or run on the loop and wait for the result.
type Client struct {
	engine   crdt.Engine
	docs     *storage.Documents
	tracker  *subscription.Tracker
	socket   Socket
	save     func([]byte) error
	handlers Handlers
	logger   *zap.Logger
	loop     *loop.Loop

	// Loop goroutine only.
	session *Session

	connected atomic.Bool
}

// ClientConfig holds configuration for creating a client.
type ClientConfig struct {
	// Socket is required.
	Socket Socket

	// Engine defaults to a MapEngine with a random actor ID.
	Engine crdt.Engine

	// SavedData is state previously passed to Save. It takes precedence
	// over Docs.
	SavedData []byte
	Docs      map[string]crdt.Document

	// Save receives the serialized document set after every update.
	Save func(data []byte) error

	Handlers Handlers
	Logger   *zap.Logger
}

// NewClient creates a client and starts its loop. If the socket is already
// open a session is started right away.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Socket == nil {
		return nil, ErrMissingSocket
	}

	engine := cfg.Engine
	if engine == nil {
		engine = crdt.NewMapEngine("")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	docs := storage.NewDocuments(engine, cfg.Docs)

	if len(cfg.SavedData) > 0 {
		loaded, err := storage.DeserializeAll(engine, cfg.SavedData)
		if err != nil {
			return nil, err
		}

		docs = loaded
	}

	c := &Client{
		engine:   engine,
		docs:     docs,
		tracker:  subscription.NewTracker(),
		socket:   cfg.Socket,
		save:     cfg.Save,
		handlers: cfg.Handlers,
		logger:   logger,
		loop:     loop.New(logger),
	}

	go func() {
		_ = c.loop.Run(context.Background())
	}()

	c.socket.Listen(c)
	c.post(c.adopt)

	return c, nil
}

// OnOpen starts a session for a new connection.
func (c *Client) OnOpen() {
	c.post(c.handleOpen)
}

// OnMessage handles one inbound frame.
func (c *Client) OnMessage(data []byte) {
	c.post(func() { c.receive(data) })
}

// OnClose ends the current session.
func (c *Client) OnClose() {
	c.post(c.closeSession)
}

// OnError reports a transport error. The session is left alone; the socket
// decides whether the connection survives.
func (c *Client) OnError(err error) {
	c.post(func() {
		c.logger.Warn("transport error", zap.Error(err))
		c.notifyError(SourceTransport, err.Error())
	})
}

// Change applies a local edit to an existing document. It returns false,
// changing nothing, if the document is unknown.
func (c *Client) Change(ctx context.Context, id string, fn crdt.ChangeFunc) (bool, error) {
	return call(ctx, c.loop, func() (bool, error) {
		return c.change(id, fn)
	})
}

// Create adds an empty document and subscribes to it. It returns false if
// the document already exists.
func (c *Client) Create(ctx context.Context, id string) (bool, error) {
	return call(ctx, c.loop, func() (bool, error) {
		doc, created := c.docs.Create(id)
		if !created {
			return false, nil
		}

		if err := c.publish(id, doc); err != nil {
			return true, err
		}

		_, err := c.subscribe([]string{id})

		return true, err
	})
}

// Subscribe asks the remote for updates on ids. The ids stay pending until
// the remote confirms them. Nothing is sent while offline; pending ids are
// sent when the next session opens. It returns the deduplicated ids.
func (c *Client) Subscribe(ctx context.Context, ids []string) ([]string, error) {
	return call(ctx, c.loop, func() ([]string, error) {
		return c.subscribe(ids)
	})
}

// Unsubscribe stops updates for ids and forgets them as pending.
func (c *Client) Unsubscribe(ctx context.Context, ids []string) ([]string, error) {
	return call(ctx, c.loop, func() ([]string, error) {
		unique := c.tracker.Unsubscribe(ids)
		if len(unique) == 0 || !c.session.Open() {
			return unique, nil
		}

		return unique, c.socket.Send(ws.UnsubscribeFrame(unique))
	})
}

// Doc returns the current version of a document.
func (c *Client) Doc(id string) (crdt.Document, bool) {
	return c.docs.Get(id)
}

// IDs returns the local document IDs, sorted.
func (c *Client) IDs() []string {
	return c.docs.IDs()
}

// Pending returns subscriptions the remote has not confirmed yet, sorted.
func (c *Client) Pending() []string {
	return c.tracker.Pending()
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Actor returns the actor ID local edits are attributed to.
func (c *Client) Actor() string {
	return c.engine.Actor()
}

// Settle waits until every queued event has been handled.
func (c *Client) Settle(ctx context.Context) error {
	return c.loop.Settle(ctx)
}

// Close ends the session and stops the loop. The socket is not closed.
func (c *Client) Close() {
	_ = c.loop.Call(context.Background(), c.closeSession)
	c.loop.Close()
}

// adopt starts a session if the socket was already open when the client
// started listening.
func (c *Client) adopt() {
	if c.session != nil || !c.socket.IsOpen() {
		return
	}

	c.open()

	if c.session != nil {
		c.session.adopted = true
	}
}

func (c *Client) handleOpen() {
	// The open event for a connection adopt already picked up.
	if s := c.session; s.Open() && s.adopted {
		s.adopted = false

		return
	}

	c.open()
}

func (c *Client) open() {
	if c.session != nil {
		c.logger.Warn("open while a session is active, replacing it", zap.String("session", c.session.ID))
		c.closeSession()
	}

	s := newSession(c.engine, c.docs.Snapshot(), c.socket, c.logger)
	s.engine.OnUpdate(func(id string, doc crdt.Document) {
		c.handleUpdate(s, id, doc)
	})
	s.open = true

	c.session = s
	c.connected.Store(true)

	c.logger.Info("session opened", zap.String("session", s.ID))

	if err := s.engine.Open(); err != nil {
		c.failSession(s, fmt.Errorf("open sync session: %w", err))

		return
	}

	ids := c.tracker.Subscribe(append(c.docs.IDs(), c.tracker.Pending()...))
	if len(ids) == 0 {
		return
	}

	if err := c.socket.Send(ws.SubscribeFrame(ids)); err != nil {
		c.logger.Warn("send subscribe", zap.Error(err))
		c.notifyError(SourceTransport, err.Error())
	}
}

func (c *Client) closeSession() {
	s := c.session
	if s == nil {
		return
	}

	s.close()
	c.session = nil
	c.connected.Store(false)

	c.logger.Info("session closed", zap.String("session", s.ID))
}

// failSession tears down s after an unrecoverable engine error and drops the
// connection.
func (c *Client) failSession(s *Session, err error) {
	c.logger.Error("sync session failed", zap.String("session", s.ID), zap.Error(err))

	if c.session == s {
		c.closeSession()
	} else {
		s.close()
	}

	if derr := c.socket.Disconnect(); derr != nil {
		c.logger.Warn("disconnect", zap.Error(derr))
	}

	c.notifyError(SourceEngine, err.Error())
}

func (c *Client) receive(data []byte) {
	f, err := ws.Decode(data)
	if err != nil {
		c.protocolViolation(err, f.Action)

		return
	}

	switch f.Action {
	case ws.ActionSyncData:
		s := c.session
		if !s.Open() {
			c.protocolViolation(errors.New("sync-data without an open session"), f.Action)

			return
		}

		if err := s.engine.Receive(f.Data); err != nil {
			c.logger.Warn("sync message rejected", zap.String("session", s.ID), zap.Error(err))
			c.notifyError(SourceEngine, err.Error())

			return
		}

		c.handlers.data(DataReceived{Payload: f.Data})
	case ws.ActionError:
		c.logger.Warn("remote error", zap.String("message", f.Message))
		c.handlers.error(ErrorNotice{Source: SourceRemote, Message: f.Message})
	case ws.ActionSubscribed:
		ids := []string(f.ID)
		c.tracker.Acknowledge(ids...)
		c.handlers.subscribed(Subscribed{IDs: ids})
	default:
		c.protocolViolation(fmt.Errorf("%w: %q is client to remote only", ws.ErrUnknownAction, f.Action), f.Action)
	}
}

func (c *Client) protocolViolation(err error, action ws.Action) {
	c.logger.Warn("protocol violation", zap.String("action", string(action)), zap.Error(err))
	c.notifyError(SourceProtocol, err.Error())
}

// handleUpdate reconciles a version reported by the engine session s with
// the stored one.
func (c *Client) handleUpdate(s *Session, id string, incoming crdt.Document) {
	existing, ok := c.docs.Get(id)

	if !ok || clock.LessOrEqual(existing.Clock(), incoming.Clock()) {
		c.docs.Put(id, incoming)
	} else {
		merged, err := c.engine.Merge(existing, incoming)
		if err != nil {
			c.failSession(s, fmt.Errorf("merge %s: %w", id, err))

			return
		}

		c.logger.Debug("concurrent update, merging",
			zap.String("doc", id),
			zap.Stringer("local", existing.Clock()),
			zap.Stringer("remote", incoming.Clock()),
		)

		if err := c.loop.Defer(func() { c.writeBack(s, id, merged) }); err != nil {
			c.logger.Debug("merge write-back dropped", zap.String("doc", id), zap.Error(err))
		}
	}

	c.tracker.Acknowledge(id)
	c.persist()

	current, _ := c.docs.Get(id)
	c.handlers.change(id, current)
}

// writeBack hands a merged version to s, unless s is gone.
func (c *Client) writeBack(s *Session, id string, merged crdt.Document) {
	if c.session != s || !s.Open() {
		c.logger.Debug("session gone, skipping merge write-back", zap.String("session", s.ID), zap.String("doc", id))

		return
	}

	if err := s.engine.SetDoc(id, merged); err != nil {
		c.logger.Warn("merge write-back", zap.String("doc", id), zap.Error(err))
		c.notifyError(SourceEngine, err.Error())
	}
}

func (c *Client) change(id string, fn crdt.ChangeFunc) (bool, error) {
	doc, ok, err := c.docs.ApplyLocalChange(id, fn)
	if err != nil || !ok {
		return false, err
	}

	return true, c.publish(id, doc)
}

// publish hands a locally produced version to the open session, which
// echoes it through handleUpdate. Offline it persists and notifies directly.
func (c *Client) publish(id string, doc crdt.Document) error {
	if s := c.session; s.Open() {
		return s.engine.SetDoc(id, doc)
	}

	c.persist()
	c.handlers.change(id, doc)

	return nil
}

func (c *Client) subscribe(ids []string) ([]string, error) {
	unique := c.tracker.Subscribe(ids)
	if len(unique) == 0 || !c.session.Open() {
		return unique, nil
	}

	return unique, c.socket.Send(ws.SubscribeFrame(unique))
}

func (c *Client) persist() {
	if c.save == nil {
		return
	}

	data, err := c.docs.SerializeAll()
	if err != nil {
		c.logger.Error("serialize documents", zap.Error(err))
		c.notifyError(SourceStorage, err.Error())

		return
	}

	if err := c.save(data); err != nil {
		c.logger.Error("save documents", zap.Error(err))
		c.notifyError(SourceStorage, err.Error())
	}
}

func (c *Client) notifyError(source Source, message string) {
	c.handlers.error(ErrorNotice{Source: source, Message: message})
}

func (c *Client) post(task loop.Task) {
	if err := c.loop.Post(task); err != nil {
		c.logger.Debug("event after close dropped", zap.Error(err))
	}
}

var errTaskFailed = errors.New("client task failed")

type result[T any] struct {
	value T
	err   error
}

const (
	callQueued int32 = iota
	callRunning
	callAbandoned
)

// call runs fn on l and waits for its result. If ctx ends while fn is still
// queued, fn never runs and ctx's error is returned. Once fn has started its
// result is returned regardless of ctx.
func call[T any](ctx context.Context, l *loop.Loop, fn func() (T, error)) (T, error) {
	var (
		state   atomic.Int32
		zero    T
		results = make(chan result[T], 1)
	)

	err := l.Call(ctx, func() {
		if !state.CompareAndSwap(callQueued, callRunning) {
			return
		}

		defer close(results)

		value, err := fn()
		results <- result[T]{value: value, err: err}
	})
	if err != nil && state.CompareAndSwap(callQueued, callAbandoned) {
		return zero, err
	}

	// A closed channel without a result means fn panicked.
	r, ok := <-results
	if !ok {
		return zero, errTaskFailed
	}

	return r.value, r.err
}
