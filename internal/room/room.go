// Package room tracks authorization-gated membership per document and
// delivers presence events and cursor updates to subscribers.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the edit predicate denies a user
// access to a document's room.
var ErrUnauthorized = errors.New("unauthorized")

// AuthorizeFunc is the edit predicate delegated to the document store:
// owner or collaborator of an ACTIVE document.
type AuthorizeFunc func(ctx context.Context, documentID, userID string) (bool, error)

// Publisher fans a payload out to every subscriber of a destination.
type Publisher interface {
	Publish(destination string, payload any)
}

// Member is one user present in a room.
type Member struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

// PresenceEvent is delivered on the users destination of a document.
type PresenceEvent struct {
	Type       string   `json:"type"` // user_joined, user_left, users_list
	DocumentID string   `json:"documentId"`
	UserID     string   `json:"userId,omitempty"`
	UserName   string   `json:"userName,omitempty"`
	UserCount  int      `json:"userCount,omitempty"`
	Users      []Member `json:"users,omitempty"`
}

// Cursor is relayed unchanged on the cursors destination, except for the
// server-stamped color. Position may be absent; operations and cursor
// updates are mutually unordered and clients clamp stale positions.
type Cursor struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
	Position   *int   `json:"position,omitempty"`
	UserName   string `json:"userName"`
	Color      string `json:"color"`
}

// Manager gates room membership on the edit predicate and owns the
// membership tables.
type Manager struct {
	authorize AuthorizeFunc
	pub       Publisher
	logger    *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[string]Member   // documentID -> userID -> member
	byUser map[string]map[string]struct{} // userID -> documentIDs
}

// NewManager wires the room layer.
func NewManager(authorize AuthorizeFunc, pub Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		authorize: authorize,
		pub:       pub,
		logger:    logger,
		rooms:     make(map[string]map[string]Member),
		byUser:    make(map[string]map[string]struct{}),
	}
}

// Authorize runs the edit predicate, mapping a denial to ErrUnauthorized.
func (m *Manager) Authorize(ctx context.Context, documentID, userID string) error {
	ok, err := m.authorize(ctx, documentID, userID)
	if err != nil {
		return fmt.Errorf("authorize %s for %s: %w", userID, documentID, err)
	}
	if !ok {
		return fmt.Errorf("user %s on document %s: %w", userID, documentID, ErrUnauthorized)
	}
	return nil
}

// Join admits a user to a document's room if the edit predicate holds,
// emitting user_joined and a fresh users_list. Joining a room the user is
// already in is a no-op.
func (m *Manager) Join(ctx context.Context, documentID, userID, userName string) error {
	if err := m.Authorize(ctx, documentID, userID); err != nil {
		return err
	}

	m.mu.Lock()
	if _, present := m.rooms[documentID][userID]; present {
		m.mu.Unlock()
		return nil
	}
	if m.rooms[documentID] == nil {
		m.rooms[documentID] = make(map[string]Member)
	}
	member := Member{UserID: userID, UserName: userName, JoinedAt: time.Now()}
	m.rooms[documentID][userID] = member
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][documentID] = struct{}{}
	members := snapshot(m.rooms[documentID])
	m.mu.Unlock()

	m.logger.Info("user joined room", "documentId", documentID, "userId", userID, "members", len(members))

	m.pub.Publish(DestUsers(documentID), PresenceEvent{
		Type:       "user_joined",
		DocumentID: documentID,
		UserID:     userID,
		UserName:   userName,
		UserCount:  len(members),
	})
	m.pub.Publish(DestUsers(documentID), PresenceEvent{
		Type:       "users_list",
		DocumentID: documentID,
		UserCount:  len(members),
		Users:      members,
	})
	return nil
}

// Leave removes a user from a room, emits user_left, and evicts the room
// entry once it empties. Leaving a room the user is not in is a no-op.
func (m *Manager) Leave(documentID, userID string) {
	m.mu.Lock()
	member, present := m.rooms[documentID][userID]
	if !present {
		m.mu.Unlock()
		return
	}
	delete(m.rooms[documentID], userID)
	if len(m.rooms[documentID]) == 0 {
		delete(m.rooms, documentID)
	}
	delete(m.byUser[userID], documentID)
	if len(m.byUser[userID]) == 0 {
		delete(m.byUser, userID)
	}
	members := snapshot(m.rooms[documentID])
	m.mu.Unlock()

	m.logger.Info("user left room", "documentId", documentID, "userId", userID, "members", len(members))

	m.pub.Publish(DestUsers(documentID), PresenceEvent{
		Type:       "user_left",
		DocumentID: documentID,
		UserID:     userID,
		UserName:   member.UserName,
		UserCount:  len(members),
	})
	if len(members) > 0 {
		m.pub.Publish(DestUsers(documentID), PresenceEvent{
			Type:       "users_list",
			DocumentID: documentID,
			UserCount:  len(members),
			Users:      members,
		})
	}
}

// Disconnect removes a user from every room they are in. Disconnect is a
// membership event, not an error.
func (m *Manager) Disconnect(userID string) {
	m.mu.RLock()
	docs := make([]string, 0, len(m.byUser[userID]))
	for documentID := range m.byUser[userID] {
		docs = append(docs, documentID)
	}
	m.mu.RUnlock()

	for _, documentID := range docs {
		m.Leave(documentID, userID)
	}
}

// List returns a snapshot of a room's members, ordered by user id.
func (m *Manager) List(documentID string) []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.rooms[documentID])
}

// IsMember reports whether a user is present in a document's room.
func (m *Manager) IsMember(documentID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[documentID][userID]
	return ok
}

// MemberCount returns the number of users in a document's room.
func (m *Manager) MemberCount(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[documentID])
}

// DocumentsForUser returns the documents whose rooms the user is in,
// sorted.
func (m *Manager) DocumentsForUser(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]string, 0, len(m.byUser[userID]))
	for documentID := range m.byUser[userID] {
		docs = append(docs, documentID)
	}
	sort.Strings(docs)
	return docs
}

// RelayCursor validates membership (admitting on a first cursor from an
// authorized user), stamps the user's deterministic color, and fans the
// cursor out. Cursors bypass the OT path entirely.
func (m *Manager) RelayCursor(ctx context.Context, c Cursor) error {
	if !m.IsMember(c.DocumentID, c.UserID) {
		if err := m.Join(ctx, c.DocumentID, c.UserID, c.UserName); err != nil {
			return err
		}
	}
	c.Color = ColorFor(c.UserID)
	m.pub.Publish(DestCursors(c.DocumentID), c)
	return nil
}

func snapshot(members map[string]Member) []Member {
	out := make([]Member, 0, len(members))
	for _, member := range members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
