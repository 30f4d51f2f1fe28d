package crdt

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// MapEngine creates and edits MapDocuments on behalf of one actor.
type MapEngine struct {
	actor string
}

// NewMapEngine creates an engine whose local edits are attributed to actor.
// An empty actor gets a random ID.
func NewMapEngine(actor string) *MapEngine {
	if actor == "" {
		actor = NewActorID()
	}

	return &MapEngine{actor: actor}
}

// Actor returns the engine's actor ID.
func (e *MapEngine) Actor() string {
	return e.actor
}

// New returns an empty document.
func (e *MapEngine) New() Document {
	return newMapDocument()
}

// ApplyEdits runs fn against doc and returns the resulting version. If fn
// makes no edits, doc is returned unchanged.
func (e *MapEngine) ApplyEdits(doc Document, fn ChangeFunc) (Document, error) {
	base, err := e.cast(doc)
	if err != nil {
		return nil, err
	}

	ed := &mapEditor{doc: base, pending: make(map[string]int)}
	fn(ed)

	if len(ed.ops) == 0 {
		return base, nil
	}

	next := base.clone()
	next.apply(Change{
		Actor: e.actor,
		Seq:   base.clock[e.actor] + 1,
		Time:  base.maxTime + 1,
		Ops:   ed.ops,
	})

	return next, nil
}

// Merge returns a document holding the changes of both a and b.
func (e *MapEngine) Merge(a, b Document) (Document, error) {
	left, err := e.cast(a)
	if err != nil {
		return nil, err
	}

	right, err := e.cast(b)
	if err != nil {
		return nil, err
	}

	merged, _, err := left.withChanges(right.changes)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	return merged, nil
}

// encodedDocument is the saved form of a MapDocument.
type encodedDocument struct {
	Changes []Change `json:"changes"`
}

// Encode serializes the full change history of doc.
func (e *MapEngine) Encode(doc Document) ([]byte, error) {
	d, err := e.cast(doc)
	if err != nil {
		return nil, err
	}

	changes := d.changes
	if changes == nil {
		changes = []Change{}
	}

	return json.Marshal(encodedDocument{Changes: changes})
}

// Decode rebuilds a document from Encode output.
func (e *MapEngine) Decode(data []byte) (Document, error) {
	var enc encodedDocument
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	doc, _, err := newMapDocument().withChanges(enc.Changes)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return doc, nil
}

// NewSession binds a fresh sync session holding cfg.Docs. Documents from
// another engine are skipped.
func (e *MapEngine) NewSession(cfg SessionConfig) Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := newMapSession(cfg.Send, logger)

	for id, doc := range cfg.Docs {
		d, err := e.cast(doc)
		if err != nil {
			logger.Warn("not seeding session", zap.String("doc_id", id), zap.Error(err))

			continue
		}

		s.docs[id] = d
	}

	return s
}

func (e *MapEngine) cast(doc Document) (*MapDocument, error) {
	d, ok := doc.(*MapDocument)
	if !ok || d == nil {
		return nil, ErrForeignDocument
	}

	return d, nil
}

// mapEditor collects the ops of one change.
type mapEditor struct {
	doc     *MapDocument
	ops     []Op
	pending map[string]int
}

func (m *mapEditor) Set(key, value string) {
	m.record(Op{Action: ActionSet, Key: key, Value: value})
}

func (m *mapEditor) Delete(key string) {
	if _, ok := m.Get(key); !ok {
		return
	}

	m.record(Op{Action: ActionDelete, Key: key})
}

func (m *mapEditor) Get(key string) (string, bool) {
	if i, ok := m.pending[key]; ok {
		op := m.ops[i]

		return op.Value, op.Action == ActionSet
	}

	return m.doc.Get(key)
}

// record keeps only the last op per key.
func (m *mapEditor) record(op Op) {
	if i, ok := m.pending[op.Key]; ok {
		m.ops[i] = op

		return
	}

	m.pending[op.Key] = len(m.ops)
	m.ops = append(m.ops, op)
}

// Ensure MapEngine implements Engine.
var _ Engine = (*MapEngine)(nil)
