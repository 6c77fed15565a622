package editor

import (
	"encoding/json"

	"collabdocs/pkg/ot"
)

// Error codes surfaced to clients.
const (
	CodeInvalidOperation = "INVALID_OPERATION"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "DOCUMENT_NOT_FOUND"
	CodeNoChanges        = "NO_CHANGES"
	CodeInternal         = "INTERNAL"
)

// Message is the inbound client frame. Fields are populated per type:
// subscribe carries Destination; operation carries Operation; cursor
// carries Position; text_update carries Content (legacy whole-content
// clients); save_version carries Description; revert_version and
// diff_versions carry Version (and FromVersion for diffs).
type Message struct {
	Type        string        `json:"type"`
	DocumentID  string        `json:"documentId,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Operation   *ot.Operation `json:"operation,omitempty"`
	Content     string        `json:"content,omitempty"`
	Position    *int          `json:"position,omitempty"`
	Version     int           `json:"version,omitempty"`
	FromVersion *int          `json:"fromVersion,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Reply is a direct server-to-client frame, outside the destination
// fanout: document state, version listings, acknowledgements, errors.
type Reply struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content,omitempty"`
	Version    int    `json:"version,omitempty"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// frame is the fanout envelope: clients demultiplex on the destination
// they subscribed to.
type frame struct {
	Destination string `json:"destination"`
	Payload     any    `json:"payload"`
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
