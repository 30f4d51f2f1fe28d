package storage

import (
	"maps"
	"slices"
	"sync"

	"github.com/serroba/docsync/internal/crdt"
)

// Documents is the authoritative in-memory document set: document ID to
// current version.
type Documents struct {
	engine crdt.Engine

	mu   sync.RWMutex
	docs map[string]crdt.Document
}

// NewDocuments creates a document set, optionally seeded with docs.
func NewDocuments(engine crdt.Engine, docs map[string]crdt.Document) *Documents {
	d := &Documents{
		engine: engine,
		docs:   make(map[string]crdt.Document, len(docs)),
	}

	maps.Copy(d.docs, docs)

	return d
}

// Get returns the current version of a document.
func (d *Documents) Get(id string) (crdt.Document, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[id]

	return doc, ok
}

// Put stores doc as the current version, replacing any previous one.
func (d *Documents) Put(id string, doc crdt.Document) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.docs[id] = doc
}

// Has reports whether a document is present.
func (d *Documents) Has(id string) bool {
	_, ok := d.Get(id)

	return ok
}

// Create stores a new empty document. It returns false if id already exists.
func (d *Documents) Create(id string) (crdt.Document, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.docs[id]; exists {
		return nil, false
	}

	doc := d.engine.New()
	d.docs[id] = doc

	return doc, true
}

// ApplyLocalChange runs fn against the current version of id and stores the
// result. It returns false, without touching the set, if id is unknown.
func (d *Documents) ApplyLocalChange(id string, fn crdt.ChangeFunc) (crdt.Document, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.docs[id]
	if !ok {
		return nil, false, nil
	}

	next, err := d.engine.ApplyEdits(current, fn)
	if err != nil {
		return nil, false, err
	}

	d.docs[id] = next

	return next, true, nil
}

// IDs returns the document IDs, sorted.
func (d *Documents) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Sorted(maps.Keys(d.docs))
}

// Len returns the number of documents.
func (d *Documents) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.docs)
}

// Snapshot returns a shallow copy of the set. Documents are immutable, so
// the copy is safe to read while the set keeps changing.
func (d *Documents) Snapshot() map[string]crdt.Document {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return maps.Clone(d.docs)
}
