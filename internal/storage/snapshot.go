package storage

import (
	"encoding/json"
	"fmt"

	"github.com/serroba/docsync/internal/crdt"
)

// Snapshot is the persisted form of a document set: document ID to the
// engine's encoding of that document. It marshals as a JSON object with
// base64 values.
type Snapshot map[string][]byte

// SerializeAll encodes every document with the engine and wraps the result
// in a Snapshot envelope.
func (d *Documents) SerializeAll() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := make(Snapshot, len(d.docs))

	for id, doc := range d.docs {
		data, err := d.engine.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}

		snap[id] = data
	}

	return json.Marshal(snap)
}

// DeserializeAll rebuilds a document set from SerializeAll output. Empty
// input gives an empty set. A malformed envelope or any undecodable entry
// fails the whole load.
func DeserializeAll(engine crdt.Engine, data []byte) (*Documents, error) {
	docs := NewDocuments(engine, nil)

	if len(data) == 0 {
		return docs, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}

	for id, encoded := range snap {
		doc, err := engine.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s: %w", ErrMalformedState, id, err)
		}

		docs.docs[id] = doc
	}

	return docs, nil
}
