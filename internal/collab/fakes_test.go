package collab_test

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/serroba/docsync/internal/clock"
	"github.com/serroba/docsync/internal/collab"
	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/ws"
	"github.com/stretchr/testify/require"
)

// fakeSocket is a test double for collab.Socket. Frames go through the wire
// codec so tests see exactly what a remote would.
type fakeSocket struct {
	mu          sync.Mutex
	open        bool
	listener    collab.Listener
	sent        [][]byte
	taken       int
	sendErr     error
	disconnects int

	// connectOnListen opens the socket from inside Listen, as a transport
	// that connects while the client is starting would.
	connectOnListen bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{}
}

func (s *fakeSocket) Send(f ws.Frame) error {
	data, err := ws.Encode(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return s.sendErr
	}

	s.sent = append(s.sent, data)

	return nil
}

func (s *fakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open
}

func (s *fakeSocket) Listen(l collab.Listener) {
	s.mu.Lock()
	s.listener = l
	connect := s.connectOnListen
	s.mu.Unlock()

	if connect {
		s.connect()
	}
}

func (s *fakeSocket) Disconnect() error {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.disconnects++
	l := s.listener
	s.mu.Unlock()

	if wasOpen && l != nil {
		l.OnClose()
	}

	return nil
}

// connect simulates the transport opening.
func (s *fakeSocket) connect() {
	s.mu.Lock()
	s.open = true
	l := s.listener
	s.mu.Unlock()

	l.OnOpen()
}

// drop simulates the remote closing the connection.
func (s *fakeSocket) drop() {
	s.mu.Lock()
	s.open = false
	l := s.listener
	s.mu.Unlock()

	l.OnClose()
}

func (s *fakeSocket) deliver(t *testing.T, f ws.Frame) {
	t.Helper()

	data, err := ws.Encode(f)
	require.NoError(t, err)

	s.deliverRaw(data)
}

func (s *fakeSocket) deliverRaw(data []byte) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	l.OnMessage(data)
}

// Frames returns every frame sent so far.
func (s *fakeSocket) Frames(t *testing.T) []ws.Frame {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	return decodeAll(t, s.sent)
}

// take returns the frames sent since the last take.
func (s *fakeSocket) take(t *testing.T) []ws.Frame {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	frames := decodeAll(t, s.sent[s.taken:])
	s.taken = len(s.sent)

	return frames
}

func (s *fakeSocket) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disconnects
}

func decodeAll(t *testing.T, raw [][]byte) []ws.Frame {
	t.Helper()

	frames := make([]ws.Frame, 0, len(raw))

	for _, data := range raw {
		f, err := ws.Decode(data)
		require.NoError(t, err)

		frames = append(frames, f)
	}

	return frames
}

func framesWithAction(frames []ws.Frame, action ws.Action) []ws.Frame {
	var out []ws.Frame

	for _, f := range frames {
		if f.Action == action {
			out = append(out, f)
		}
	}

	return out
}

// recorder collects notifications.
type recorder struct {
	mu         sync.Mutex
	data       []collab.DataReceived
	errors     []collab.ErrorNotice
	subscribed []collab.Subscribed
	changes    []change
}

type change struct {
	id  string
	doc crdt.Document
}

func (r *recorder) handlers() collab.Handlers {
	return collab.Handlers{
		OnData: func(n collab.DataReceived) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.data = append(r.data, n)
		},
		OnError: func(n collab.ErrorNotice) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.errors = append(r.errors, n)
		},
		OnSubscribed: func(n collab.Subscribed) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.subscribed = append(r.subscribed, n)
		},
		OnChange: func(id string, doc crdt.Document) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.changes = append(r.changes, change{id: id, doc: doc})
		},
	}
}

func (r *recorder) Errors() []collab.ErrorNotice {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.errors)
}

func (r *recorder) Changes() []change {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.changes)
}

func (r *recorder) Data() []collab.DataReceived {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.data)
}

func (r *recorder) Subscribed() []collab.Subscribed {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.subscribed)
}

// fakeDoc is a document with a hand-set clock. Values from different actors
// never conflict in tests, so merging is a plain union.
type fakeDoc struct {
	vv     clock.VersionVector
	values map[string]string
}

func newFakeDoc(vv clock.VersionVector, values map[string]string) *fakeDoc {
	if values == nil {
		values = map[string]string{}
	}

	return &fakeDoc{vv: vv, values: values}
}

func (d *fakeDoc) Clock() clock.VersionVector { return d.vv }

func (d *fakeDoc) Get(key string) (string, bool) {
	v, ok := d.values[key]

	return v, ok
}

func (d *fakeDoc) Keys() []string {
	return slices.Sorted(maps.Keys(d.values))
}

// fakeEngine is a deterministic crdt.Engine. Edits bump the engine actor's
// clock entry; Merge unions clocks and values.
type fakeEngine struct {
	actor    string
	poison   string
	merges   int
	sessions []*fakeSession
}

func newFakeEngine(actor string) *fakeEngine {
	return &fakeEngine{actor: actor}
}

func (e *fakeEngine) Actor() string { return e.actor }

func (e *fakeEngine) New() crdt.Document {
	return newFakeDoc(clock.VersionVector{}, nil)
}

func (e *fakeEngine) ApplyEdits(doc crdt.Document, fn crdt.ChangeFunc) (crdt.Document, error) {
	base, ok := doc.(*fakeDoc)
	if !ok {
		return nil, crdt.ErrForeignDocument
	}

	ed := &fakeEditor{values: maps.Clone(base.values)}
	fn(ed)

	if !ed.edited {
		return base, nil
	}

	vv := base.vv.Clone()
	vv.Increment(e.actor)

	return newFakeDoc(vv, ed.values), nil
}

func (e *fakeEngine) Merge(a, b crdt.Document) (crdt.Document, error) {
	e.merges++

	left, lok := a.(*fakeDoc)
	right, rok := b.(*fakeDoc)

	if !lok || !rok {
		return nil, crdt.ErrForeignDocument
	}

	if _, bad := right.values[e.poison]; e.poison != "" && bad {
		return nil, errors.New("poisoned change")
	}

	values := maps.Clone(left.values)
	maps.Copy(values, right.values)

	return newFakeDoc(clock.Merge(left.vv, right.vv), values), nil
}

func (e *fakeEngine) Encode(doc crdt.Document) ([]byte, error) {
	d, ok := doc.(*fakeDoc)
	if !ok {
		return nil, crdt.ErrForeignDocument
	}

	return json.Marshal(fakeUpdate{Clock: d.vv, Values: d.values})
}

func (e *fakeEngine) Decode(data []byte) (crdt.Document, error) {
	var u fakeUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}

	return newFakeDoc(u.Clock, u.Values), nil
}

func (e *fakeEngine) NewSession(cfg crdt.SessionConfig) crdt.Session {
	s := &fakeSession{send: cfg.Send, docs: map[string]crdt.Document{}}
	maps.Copy(s.docs, cfg.Docs)

	e.sessions = append(e.sessions, s)

	return s
}

func (e *fakeEngine) lastSession(t *testing.T) *fakeSession {
	t.Helper()
	require.NotEmpty(t, e.sessions)

	return e.sessions[len(e.sessions)-1]
}

type fakeEditor struct {
	values map[string]string
	edited bool
}

func (e *fakeEditor) Set(key, value string) {
	e.values[key] = value
	e.edited = true
}

func (e *fakeEditor) Delete(key string) {
	if _, ok := e.values[key]; ok {
		delete(e.values, key)
		e.edited = true
	}
}

func (e *fakeEditor) Get(key string) (string, bool) {
	v, ok := e.values[key]

	return v, ok
}

// fakeUpdate is the fake engine's sync message: a list of whole documents.
type fakeUpdate struct {
	ID     string              `json:"id,omitempty"`
	Clock  clock.VersionVector `json:"clock"`
	Values map[string]string   `json:"values"`
}

func updateFrame(t *testing.T, updates ...fakeUpdate) ws.Frame {
	t.Helper()

	data, err := json.Marshal(updates)
	require.NoError(t, err)

	return ws.SyncDataFrame(data)
}

// fakeSession reports every received document to its handlers and records
// what the client hands back.
type fakeSession struct {
	send     func([]byte) error
	handlers []crdt.UpdateHandler
	docs     map[string]crdt.Document
	setDocs  []change
	opened   bool
	closed   bool
}

func (s *fakeSession) OnUpdate(h crdt.UpdateHandler) {
	s.handlers = append(s.handlers, h)
}

func (s *fakeSession) Open() error {
	s.opened = true

	return nil
}

func (s *fakeSession) Receive(data []byte) error {
	if s.closed {
		return crdt.ErrSessionClosed
	}

	var updates []fakeUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return crdt.ErrInvalidMessage
	}

	for _, u := range updates {
		if s.closed {
			break
		}

		s.update(u.ID, newFakeDoc(u.Clock, u.Values))
	}

	return nil
}

func (s *fakeSession) SetDoc(id string, doc crdt.Document) error {
	if s.closed {
		return crdt.ErrSessionClosed
	}

	s.setDocs = append(s.setDocs, change{id: id, doc: doc})
	s.update(id, doc)

	return nil
}

func (s *fakeSession) update(id string, doc crdt.Document) {
	s.docs[id] = doc

	for _, h := range s.handlers {
		h(id, doc)
	}
}

func (s *fakeSession) Doc(id string) (crdt.Document, bool) {
	doc, ok := s.docs[id]

	return doc, ok
}

func (s *fakeSession) Close() {
	s.closed = true
	s.handlers = nil
}

// Ensure the fakes implement the interfaces the client consumes.
var (
	_ collab.Socket = (*fakeSocket)(nil)
	_ crdt.Engine   = (*fakeEngine)(nil)
	_ crdt.Session  = (*fakeSession)(nil)
)
