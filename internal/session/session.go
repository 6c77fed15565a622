// Package session implements the per-document serialization point: each
// incoming operation is assigned a server id, transformed against the
// concurrent history, applied to the in-memory document, logged, persisted,
// and broadcast to the document's room.
package session

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"collabdocs/pkg/ot"
)

// ErrInvalidOperation marks operations that fail structural validation at
// ingress. It is surfaced to the submitter and never broadcast.
var ErrInvalidOperation = errors.New("invalid operation")

// session is the ephemeral in-memory state for one document. All writes
// for the document pass through mu; reads of other documents proceed
// concurrently.
type session struct {
	documentID string

	mu      sync.Mutex
	content string
	version int
	recent  []ot.Operation

	// pending counts operations admitted to ingest but not yet fully
	// persisted, used to decide whether resynchronizing from storage is
	// safe.
	pending atomic.Int64

	// dirty is set when a content persist failed; in-memory state is then
	// ahead of storage until the next successful persist.
	dirty atomic.Bool

	// persistMu serializes persistence outside the session lock so writes
	// cannot regress to older content.
	persistMu        sync.Mutex
	persistedVersion int
	lastPersisted    string

	// outbox holds broadcasts queued in apply order under mu; bcastMu
	// serializes their drain so subscribers always see the server total
	// order even when submitters race between unlock and fanout.
	bcastMu sync.Mutex
	outbox  []BroadcastMessage

	lastActive atomic.Int64 // unix nanos
}

func newSession(documentID, content string) *session {
	s := &session{
		documentID:    documentID,
		content:       content,
		lastPersisted: content,
	}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// concurrentFor selects the recent operations the submitting client had
// not seen: entries based past the operation's base version, or based on
// the same version. Client-side operation ids are discarded at ingress
// and never consulted here; every buffered entry carries a server id
// assigned after anything the client could have seen, so with the base
// version fixed at zero this is the whole buffer. Sorted by server
// operation id ascending.
func (s *session) concurrentFor(baseVersion int) []ot.Operation {
	var out []ot.Operation
	for _, e := range s.recent {
		if e.BaseVersion >= baseVersion {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OperationID < out[j].OperationID
	})
	return out
}

// remember appends an applied operation, trimming the buffer to cap. The
// cap bounds memory and how far behind a client may lag.
func (s *session) remember(op ot.Operation, cap int) {
	s.recent = append(s.recent, op)
	if len(s.recent) > cap {
		s.recent = s.recent[len(s.recent)-cap:]
	}
}

func validate(op ot.Operation) error {
	if op.DocumentID == "" || op.UserID == "" {
		return ErrInvalidOperation
	}
	switch op.Type {
	case ot.OpInsert:
		if op.Content == "" || op.Position < 0 {
			return ErrInvalidOperation
		}
	case ot.OpDelete:
		if op.Length <= 0 || op.Position < 0 {
			return ErrInvalidOperation
		}
	default:
		// Retain is an internal transformation artifact, never a
		// submittable edit.
		return ErrInvalidOperation
	}
	return nil
}
