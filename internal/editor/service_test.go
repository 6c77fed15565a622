package editor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabdocs/config"
	"collabdocs/internal/room"
	"collabdocs/internal/session"
	"collabdocs/internal/store"
	"collabdocs/internal/version"
	"collabdocs/pkg/ot"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	svc := NewService(cfg, st, nil)
	go svc.hub.run()
	return svc, st
}

func newTestDoc(t *testing.T, st *store.Store, content, owner string, collaborators ...string) *store.Document {
	t.Helper()
	doc := &store.Document{
		ID:            uuid.NewString(),
		Title:         "Doc",
		Content:       content,
		OwnerID:       owner,
		Collaborators: collaborators,
	}
	require.NoError(t, st.CreateDocument(context.Background(), doc))
	return doc
}

func TestSubmitAppliesAndPersists(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "Hello", "u1")

	applied, ok, err := svc.Submit(ctx, ot.Operation{
		Type:       ot.OpInsert,
		Position:   5,
		Content:    " World",
		UserID:     "u1",
		DocumentID: doc.ID,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, applied.OperationID)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", got.Content)

	entries, err := st.ChangesByDocument(ctx, doc.ID, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ChangeInsert, entries[0].ChangeType)
	assert.Equal(t, " World", entries[0].Content)
}

func TestSubmitUnauthorized(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "Hello", "u1")

	_, _, err := svc.Submit(ctx, ot.Operation{
		Type:       ot.OpInsert,
		Position:   0,
		Content:    "x",
		UserID:     "stranger",
		DocumentID: doc.ID,
	})
	assert.ErrorIs(t, err, room.ErrUnauthorized)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Content)
}

func TestSubmitCollaborator(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "", "u1", "u2")

	_, ok, err := svc.Submit(ctx, ot.Operation{
		Type:       ot.OpInsert,
		Position:   0,
		Content:    "hi",
		UserID:     "u2",
		DocumentID: doc.ID,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveAndRevertVersion(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "v0", "u1")
	_, err := svc.Versions().CreateInitial(ctx, doc.ID, "v0", "u1")
	require.NoError(t, err)

	_, _, err = svc.Submit(ctx, ot.Operation{
		Type: ot.OpInsert, Position: 2, Content: "!", UserID: "u1", DocumentID: doc.ID,
	})
	require.NoError(t, err)

	v, err := svc.SaveVersion(ctx, doc.ID, "u1", "first save")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, "v0!", v.Content)

	// Saving again with nothing new is rejected.
	_, err = svc.SaveVersion(ctx, doc.ID, "u1", "")
	assert.ErrorIs(t, err, version.ErrNoChanges)

	restored, err := svc.RevertVersion(ctx, doc.ID, 0, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, restored.VersionNumber)
	assert.Equal(t, "v0", restored.Content)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v0", got.Content)

	// The next edit starts from the restored content.
	content, _, err := svc.Sessions().Content(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v0", content)
}

func TestSaveVersionUnauthorized(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "v0", "u1")

	_, err := svc.SaveVersion(ctx, doc.ID, "stranger", "")
	assert.ErrorIs(t, err, room.ErrUnauthorized)
}

func TestHandleOperationIgnoresClientID(t *testing.T) {
	svc, st := newTestService(t)
	doc := newTestDoc(t, st, "", "u1")

	c := newClient(svc.hub, nil, svc, "u1", "Alice")
	c.handleOperation(context.Background(), Message{
		DocumentID: doc.ID,
		Operation:  &ot.Operation{Type: ot.OpInsert, Position: 0, Content: "hi", OperationID: 7777},
	})

	var r struct {
		Type string       `json:"type"`
		Data ot.Operation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-c.send, &r))
	assert.Equal(t, "ack", r.Type)
	assert.Equal(t, int64(1), r.Data.OperationID, "acknowledged id is server-assigned")
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{session.ErrInvalidOperation, CodeInvalidOperation},
		{room.ErrUnauthorized, CodeUnauthorized},
		{store.ErrNotFound, CodeNotFound},
		{version.ErrNoChanges, CodeNoChanges},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(tt.err))
		// Wrapped errors map the same way.
		assert.Equal(t, tt.code, errorCode(wrap(tt.err)))
	}
}

func wrap(err error) error { return errors.Join(errors.New("context"), err) }
