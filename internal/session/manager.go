package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"collabdocs/internal/store"
	"collabdocs/pkg/ot"
)

// DocumentStore is the slice of persistence the session layer needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	UpdateContent(ctx context.Context, id, content string) error
}

// ChangeLog receives one entry per applied operation.
type ChangeLog interface {
	AppendChange(ctx context.Context, e *store.ChangeEntry) error
}

// BroadcastMessage is the payload delivered to every subscriber of a
// document's operations destination.
type BroadcastMessage struct {
	Operation  ot.Operation `json:"operation"`
	DocumentID string       `json:"documentId"`
	UserID     string       `json:"userId"`
	Timestamp  int64        `json:"timestamp"`
}

// Broadcaster fans an applied operation out to a document's room.
type Broadcaster interface {
	BroadcastOperation(documentID string, msg BroadcastMessage)
}

// Presence lets the evictor check whether anyone is still subscribed to
// a document before dropping its session.
type Presence interface {
	MemberCount(documentID string) int
}

// Manager owns all document sessions. Sessions are created lazily on the
// first operation for a document and evicted on reset or idleness.
type Manager struct {
	docs      DocumentStore
	changes   ChangeLog
	bcast     Broadcaster
	logger    *slog.Logger
	recentCap int

	sessions sync.Map // documentID -> *session
	nextOpID atomic.Int64

	presence Presence
}

// NewManager wires the session layer. recentCap bounds the per-document
// buffer of recently applied operations; values <= 0 fall back to 100.
func NewManager(docs DocumentStore, changes ChangeLog, bcast Broadcaster, logger *slog.Logger, recentCap int) *Manager {
	if recentCap <= 0 {
		recentCap = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docs:      docs,
		changes:   changes,
		bcast:     bcast,
		logger:    logger,
		recentCap: recentCap,
	}
}

// SetPresence attaches the room membership source consulted by the idle
// evictor.
func (m *Manager) SetPresence(p Presence) {
	m.presence = p
}

// Submit runs one client operation through the ingest protocol. It
// returns the transformed operation and whether it was applied; no-op
// transforms (retains, zero-length deletes) are dropped without logging
// or broadcasting. The returned operation carries its server-assigned id.
//
// The critical section is CPU-bound only: the change-log append, content
// persist, and broadcast all happen after the session lock is released.
// Broadcasts are queued under the lock and drained in queue order, so
// subscribers observe operations in the server total order.
func (m *Manager) Submit(ctx context.Context, op ot.Operation) (ot.Operation, bool, error) {
	if err := validate(op); err != nil {
		return ot.Operation{}, false, err
	}

	// Client-side temporary ids are discarded; the server assigns the
	// only id that participates in ordering or history selection.
	op.OperationID = 0

	doc, err := m.docs.GetDocument(ctx, op.DocumentID)
	if err != nil {
		return ot.Operation{}, false, err
	}

	sess := m.session(op.DocumentID, doc.Content)
	sess.pending.Add(1)
	defer sess.pending.Add(-1)

	sess.mu.Lock()
	sess.touch()

	// Resynchronize from persistence only when the session is fully
	// quiescent: no applied operations buffered, nothing else in flight,
	// and no unflushed content. In every other case in-memory content is
	// preferred because it reflects edits storage has not seen yet.
	if doc.Content != sess.content &&
		len(sess.recent) == 0 &&
		!sess.dirty.Load() &&
		sess.pending.Load() == 1 {
		sess.content = doc.Content
	}

	concurrent := sess.concurrentFor(op.BaseVersion)
	op.OperationID = m.nextOpID.Add(1)

	transformed := ot.TransformAgainst(op, concurrent)
	if transformed.IsNoop() {
		sess.mu.Unlock()
		return transformed, false, nil
	}

	// For deletes, capture the removed text before applying; the change
	// log stores it for audit and diff attribution.
	entryContent := transformed.Content
	if transformed.Type == ot.OpDelete {
		entryContent = deletedText(sess.content, transformed)
	}

	sess.content = ot.Apply(sess.content, transformed)
	sess.remember(transformed, m.recentCap)
	sess.version++

	// Queue the broadcast while still holding the lock so fanout order is
	// pinned to apply order; the queue drain below runs outside it.
	sess.outbox = append(sess.outbox, BroadcastMessage{
		Operation:  transformed,
		DocumentID: op.DocumentID,
		UserID:     op.UserID,
		Timestamp:  time.Now().UnixMilli(),
	})
	sess.mu.Unlock()

	entry := &store.ChangeEntry{
		DocumentID: op.DocumentID,
		UserID:     op.UserID,
		ChangeType: changeTypeOf(transformed),
		Content:    entryContent,
		Position:   transformed.Position,
	}
	if err := m.changes.AppendChange(ctx, entry); err != nil {
		m.logger.Warn("change log append failed",
			"documentId", op.DocumentID, "operationId", transformed.OperationID, "error", err)
	}

	m.persist(ctx, sess)
	m.flushBroadcasts(sess)
	return transformed, true, nil
}

// flushBroadcasts drains a session's queued broadcasts in FIFO order.
// bcastMu keeps drains from interleaving, so two submitters racing
// between unlock and fanout cannot deliver operations out of server
// order; whichever drain runs first carries both messages.
func (m *Manager) flushBroadcasts(sess *session) {
	sess.bcastMu.Lock()
	defer sess.bcastMu.Unlock()
	for {
		sess.mu.Lock()
		if len(sess.outbox) == 0 {
			sess.mu.Unlock()
			return
		}
		msg := sess.outbox[0]
		sess.outbox = sess.outbox[1:]
		sess.mu.Unlock()

		m.bcast.BroadcastOperation(msg.DocumentID, msg)
	}
}

// persist writes the newest in-memory content to storage. Failures leave
// the session dirty; in-memory and broadcast state stay authoritative and
// the write is retried on the next operation. persistMu keeps concurrent
// writers from regressing content to an older state.
func (m *Manager) persist(ctx context.Context, sess *session) {
	sess.persistMu.Lock()
	defer sess.persistMu.Unlock()

	sess.mu.Lock()
	content := sess.content
	version := sess.version
	sess.mu.Unlock()

	if version == sess.persistedVersion {
		return
	}
	if err := m.docs.UpdateContent(ctx, sess.documentID, content); err != nil {
		sess.dirty.Store(true)
		m.logger.Warn("content persist failed, will retry on next operation",
			"documentId", sess.documentID, "error", err)
		return
	}
	sess.persistedVersion = version
	sess.lastPersisted = content
	sess.dirty.Store(false)
}

// session returns the live session for a document, creating it from the
// persisted content on first use.
func (m *Manager) session(documentID, content string) *session {
	if v, ok := m.sessions.Load(documentID); ok {
		return v.(*session)
	}
	created := newSession(documentID, content)
	actual, _ := m.sessions.LoadOrStore(documentID, created)
	return actual.(*session)
}

// Reset evicts a document's session. The next operation re-initializes
// from persisted content. Called on revert and external content
// replacement.
func (m *Manager) Reset(documentID string) {
	m.sessions.Delete(documentID)
	m.logger.Debug("session reset", "documentId", documentID)
}

// Content returns the authoritative current content and internal version
// counter for a document: the live session when one exists, otherwise the
// persisted document.
func (m *Manager) Content(ctx context.Context, documentID string) (string, int, error) {
	if v, ok := m.sessions.Load(documentID); ok {
		sess := v.(*session)
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.content, sess.version, nil
	}
	doc, err := m.docs.GetDocument(ctx, documentID)
	if err != nil {
		return "", 0, err
	}
	return doc.Content, 0, nil
}

// LastOperationID exposes the most recently assigned id, for tests and
// diagnostics.
func (m *Manager) LastOperationID() int64 {
	return m.nextOpID.Load()
}

// EvictIdle drops sessions that have been quiescent longer than maxIdle
// and have no remaining subscribers. Dirty sessions are kept so the
// pending content is not lost before a successful persist.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	evicted := 0
	cutoff := time.Now().Add(-maxIdle)
	m.sessions.Range(func(key, value any) bool {
		sess := value.(*session)
		if sess.idleSince().After(cutoff) || sess.dirty.Load() || sess.pending.Load() > 0 {
			return true
		}
		if m.presence != nil && m.presence.MemberCount(sess.documentID) > 0 {
			return true
		}
		m.sessions.Delete(key)
		evicted++
		return true
	})
	if evicted > 0 {
		m.logger.Debug("evicted idle sessions", "count", evicted)
	}
	return evicted
}

// StartEvictor runs EvictIdle on an interval until ctx is done. A
// non-positive maxIdle disables eviction.
func (m *Manager) StartEvictor(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.EvictIdle(maxIdle)
			}
		}
	}()
}

func changeTypeOf(op ot.Operation) store.ChangeType {
	if op.Type == ot.OpDelete {
		return store.ChangeDelete
	}
	return store.ChangeInsert
}

// deletedText extracts the text a delete removes, clamped the same way
// Apply clamps.
func deletedText(content string, op ot.Operation) string {
	pos := op.Position
	if pos < 0 {
		pos = 0
	}
	if pos >= len(content) {
		return ""
	}
	end := pos + op.Length
	if end > len(content) {
		end = len(content)
	}
	return content[pos:end]
}
