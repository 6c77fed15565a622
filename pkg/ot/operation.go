// Package ot implements Operational Transformation for real-time
// collaborative editing. The engine is pure: it transforms and applies
// operations but performs no I/O and holds no state.
//
// Positions and lengths are UTF-8 byte offsets into the document content.
package ot

import (
	"encoding/json"
	"fmt"
)

// OpType represents the type of operation.
type OpType int

const (
	OpInsert OpType = iota
	OpDelete
	OpRetain
)

var opTypeNames = map[OpType]string{
	OpInsert: "insert",
	OpDelete: "delete",
	OpRetain: "retain",
}

// String returns the wire name of the operation type.
func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("optype(%d)", int(t))
}

// MarshalJSON encodes the type as its wire name.
func (t OpType) MarshalJSON() ([]byte, error) {
	name, ok := opTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %d", int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts both the wire name ("insert") and the numeric
// form older clients send.
func (t *OpType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for typ, n := range opTypeNames {
			if n == name {
				*t = typ
				return nil
			}
		}
		return fmt.Errorf("unknown operation type %q", name)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("operation type must be a string or number")
	}
	typ := OpType(n)
	if _, ok := opTypeNames[typ]; !ok {
		return fmt.Errorf("unknown operation type %d", n)
	}
	*t = typ
	return nil
}

// Operation represents a single edit operation.
//
// An insert carries Content and no Length; a delete carries a positive
// Length and no Content. Retain is produced only by transformation and is
// never persisted or broadcast. OperationID is assigned by the server on
// ingest; client-side ids are discarded on arrival.
type Operation struct {
	Type        OpType `json:"type"`
	Position    int    `json:"position"`
	Content     string `json:"content,omitempty"` // insert payload
	Length      int    `json:"length,omitempty"`  // delete/retain span
	UserID      string `json:"userId,omitempty"`
	DocumentID  string `json:"documentId,omitempty"`
	OperationID int64  `json:"operationId,omitempty"`
	BaseVersion int    `json:"baseVersion"`
}

// IsNoop reports whether applying the operation cannot change any
// document: a retain, an insert with no content, or a delete with no span.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case OpRetain:
		return true
	case OpInsert:
		return op.Content == ""
	case OpDelete:
		return op.Length <= 0
	}
	return true
}

// Apply applies an operation to document content and returns the result.
//
// Transformed operations can carry positions that were legal against a
// slightly different state than the one the applier holds, so Apply clamps
// instead of failing: negative positions move to 0, positions past the end
// move to the end, and delete spans are trimmed to the remaining content.
// A delete positioned past the end, or any no-op, returns the content
// unchanged.
func Apply(content string, op Operation) string {
	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return content
		}
		pos := op.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(content) {
			pos = len(content)
		}
		return content[:pos] + op.Content + content[pos:]

	case OpDelete:
		if op.Length <= 0 {
			return content
		}
		pos := op.Position
		if pos < 0 {
			pos = 0
		}
		if pos >= len(content) {
			return content
		}
		end := pos + op.Length
		if end > len(content) {
			end = len(content)
		}
		return content[:pos] + content[end:]
	}

	return content
}
