package room

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	dest    string
	payload any
}

type fakePub struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePub) Publish(dest string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{dest, payload})
}

func (f *fakePub) byDest(dest string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if m.dest == dest {
			out = append(out, m)
		}
	}
	return out
}

func allowUsers(users ...string) AuthorizeFunc {
	return func(_ context.Context, _, userID string) (bool, error) {
		for _, u := range users {
			if u == userID {
				return true, nil
			}
		}
		return false, nil
	}
}

func TestJoinAndLeave(t *testing.T) {
	pub := &fakePub{}
	m := NewManager(allowUsers("u1", "u2"), pub, nil)
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, "d1", "u1", "Alice"))
	require.NoError(t, m.Join(ctx, "d1", "u2", "Bob"))

	assert.True(t, m.IsMember("d1", "u1"))
	assert.Equal(t, 2, m.MemberCount("d1"))

	members := m.List("d1")
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].UserID)
	assert.Equal(t, "Bob", members[1].UserName)

	events := pub.byDest(DestUsers("d1"))
	require.NotEmpty(t, events)
	first := events[0].payload.(PresenceEvent)
	assert.Equal(t, "user_joined", first.Type)
	assert.Equal(t, "u1", first.UserID)

	m.Leave("d1", "u1")
	assert.False(t, m.IsMember("d1", "u1"))
	assert.Equal(t, 1, m.MemberCount("d1"))

	var left *PresenceEvent
	for _, e := range pub.byDest(DestUsers("d1")) {
		evt := e.payload.(PresenceEvent)
		if evt.Type == "user_left" {
			left = &evt
		}
	}
	require.NotNil(t, left)
	assert.Equal(t, "u1", left.UserID)

	// Last member out evicts the room entry.
	m.Leave("d1", "u2")
	assert.Zero(t, m.MemberCount("d1"))
	assert.Empty(t, m.List("d1"))
}

func TestJoinUnauthorized(t *testing.T) {
	pub := &fakePub{}
	m := NewManager(allowUsers("u1"), pub, nil)

	err := m.Join(context.Background(), "d1", "u3", "Mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, m.IsMember("d1", "u3"))
	assert.Zero(t, m.MemberCount("d1"), "no room entry is created for a denied user")
	assert.Empty(t, pub.msgs, "denied joins emit nothing")
}

func TestJoinPredicateError(t *testing.T) {
	boom := errors.New("store down")
	m := NewManager(func(context.Context, string, string) (bool, error) {
		return false, boom
	}, &fakePub{}, nil)

	err := m.Join(context.Background(), "d1", "u1", "Alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestJoinIdempotent(t *testing.T) {
	pub := &fakePub{}
	m := NewManager(allowUsers("u1"), pub, nil)
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, "d1", "u1", "Alice"))
	n := len(pub.msgs)
	require.NoError(t, m.Join(ctx, "d1", "u1", "Alice"))
	assert.Equal(t, n, len(pub.msgs), "rejoin emits no duplicate events")
	assert.Equal(t, 1, m.MemberCount("d1"))
}

// Room integrity: membership, the room listing, and the reverse index
// always agree.
func TestMembershipInverse(t *testing.T) {
	m := NewManager(allowUsers("u1"), &fakePub{}, nil)
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, "d1", "u1", "Alice"))
	require.NoError(t, m.Join(ctx, "d2", "u1", "Alice"))

	assert.Equal(t, []string{"d1", "d2"}, m.DocumentsForUser("u1"))
	for _, d := range m.DocumentsForUser("u1") {
		assert.True(t, m.IsMember(d, "u1"))
		found := false
		for _, member := range m.List(d) {
			if member.UserID == "u1" {
				found = true
			}
		}
		assert.True(t, found)
	}

	m.Disconnect("u1")
	assert.Empty(t, m.DocumentsForUser("u1"))
	assert.False(t, m.IsMember("d1", "u1"))
	assert.False(t, m.IsMember("d2", "u1"))
}

func TestRelayCursor(t *testing.T) {
	pub := &fakePub{}
	m := NewManager(allowUsers("u1"), pub, nil)
	ctx := context.Background()

	pos := 4
	err := m.RelayCursor(ctx, Cursor{UserID: "u1", DocumentID: "d1", Position: &pos, UserName: "Alice"})
	require.NoError(t, err)

	// First cursor from an authorized user admits them.
	assert.True(t, m.IsMember("d1", "u1"))

	cursors := pub.byDest(DestCursors("d1"))
	require.Len(t, cursors, 1)
	c := cursors[0].payload.(Cursor)
	assert.Equal(t, ColorFor("u1"), c.Color)
	require.NotNil(t, c.Position)
	assert.Equal(t, 4, *c.Position)

	// Unauthorized cursors are denied and relay nothing.
	err = m.RelayCursor(ctx, Cursor{UserID: "u9", DocumentID: "d1", UserName: "Mallory"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, pub.byDest(DestCursors("d1")), 1)
}

func TestColorForDeterministic(t *testing.T) {
	assert.Equal(t, ColorFor("u1"), ColorFor("u1"))
	assert.Contains(t, cursorPalette, ColorFor("anyone"))
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		dest string
		doc  string
		kind DestKind
		ok   bool
	}{
		{"/abc", "abc", KindDocument, true},
		{"/abc/operations", "abc", KindOperations, true},
		{"/abc/cursors", "abc", KindCursors, true},
		{"/abc/users", "abc", KindUsers, true},
		{"/abc/other", "", 0, false},
		{"abc", "", 0, false},
		{"/", "", 0, false},
		{"//operations", "", 0, false},
	}
	for _, tt := range tests {
		doc, kind, ok := ParseDestination(tt.dest)
		assert.Equal(t, tt.ok, ok, tt.dest)
		if ok {
			assert.Equal(t, tt.doc, doc, tt.dest)
			assert.Equal(t, tt.kind, kind, tt.dest)
		}
	}
}
