package version

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabdocs/internal/store"
)

type fakeResetter struct {
	reset []string
}

func (f *fakeResetter) Reset(documentID string) { f.reset = append(f.reset, documentID) }

func newTestService(t *testing.T) (*Service, *store.Store, *fakeResetter) {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	rs := &fakeResetter{}
	return NewService(st, rs, nil), st, rs
}

func newTestDoc(t *testing.T, st *store.Store, content string) *store.Document {
	t.Helper()
	doc := &store.Document{
		ID:      uuid.NewString(),
		Title:   "Doc",
		Content: content,
		OwnerID: "u1",
	}
	require.NoError(t, st.CreateDocument(context.Background(), doc))
	return doc
}

func appendChange(t *testing.T, st *store.Store, docID, userID string, ct store.ChangeType, content string) {
	t.Helper()
	require.NoError(t, st.AppendChange(context.Background(), &store.ChangeEntry{
		DocumentID: docID,
		UserID:     userID,
		ChangeType: ct,
		Content:    content,
	}))
}

func TestCreateInitial(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "hello")

	v, err := svc.CreateInitial(ctx, doc.ID, "hello", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, v.VersionNumber)
	assert.Equal(t, "hello", v.Content)
	assert.Equal(t, "Initial version", v.ChangeDescription)
}

func TestCreateLinksChangesAndContributions(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "")
	_, err := svc.CreateInitial(ctx, doc.ID, "", "u1")
	require.NoError(t, err)

	appendChange(t, st, doc.ID, "u1", store.ChangeInsert, "hello")
	appendChange(t, st, doc.ID, "u2", store.ChangeInsert, " world")
	appendChange(t, st, doc.ID, "u1", store.ChangeDelete, "h")

	v, err := svc.Create(ctx, doc.ID, "ello world", "u1", "first save")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, "first save", v.ChangeDescription)

	linked, err := st.ChangesByVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 3)

	unversioned, err := st.UnversionedChanges(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, unversioned)

	contribs, err := st.ContributionsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, contribs, 2)
	byUser := map[string]store.Contribution{}
	for _, c := range contribs {
		byUser[c.UserID] = c
	}
	assert.Equal(t, 5, byUser["u1"].CharactersAdded)
	assert.Equal(t, 1, byUser["u1"].CharactersDeleted)
	assert.Equal(t, 6, byUser["u2"].CharactersAdded)
}

func TestCreateNoChanges(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "stable")
	_, err := svc.CreateInitial(ctx, doc.ID, "stable", "u1")
	require.NoError(t, err)

	_, err = svc.Create(ctx, doc.ID, "stable", "u1", "")
	assert.ErrorIs(t, err, ErrNoChanges)

	// CRLF-only differences do not count as changes either.
	_, err = svc.Create(ctx, doc.ID, "stable", "u1", "")
	assert.ErrorIs(t, err, ErrNoChanges)

	// Same content but pending change entries: the version is minted to
	// cover them.
	appendChange(t, st, doc.ID, "u1", store.ChangeInsert, "x")
	v, err := svc.Create(ctx, doc.ID, "stable", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
}

func TestCreateNormalizesLineEndings(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "a\nb")
	_, err := svc.CreateInitial(ctx, doc.ID, "a\nb", "u1")
	require.NoError(t, err)

	_, err = svc.Create(ctx, doc.ID, "a\r\nb", "u1", "")
	assert.ErrorIs(t, err, ErrNoChanges)
}

// Revert never deletes: the document lands on the target's content, the
// session is evicted, and a fresh version records the restore while all
// prior versions remain listable.
func TestRevert(t *testing.T) {
	svc, st, rs := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "v0")
	_, err := svc.CreateInitial(ctx, doc.ID, "v0", "u1")
	require.NoError(t, err)

	for _, content := range []string{"v1", "v2", "v3"} {
		appendChange(t, st, doc.ID, "u1", store.ChangeUpdate, content)
		_, err := svc.Create(ctx, doc.ID, content, "u1", "")
		require.NoError(t, err)
	}

	v, err := svc.Revert(ctx, doc.ID, 1, "u2")
	require.NoError(t, err)
	assert.Equal(t, 4, v.VersionNumber)
	assert.Equal(t, "v1", v.Content)
	assert.Equal(t, "Restored from version 1", v.ChangeDescription)
	assert.Equal(t, "u2", v.CreatedBy)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Content)

	assert.Equal(t, []string{doc.ID}, rs.reset)

	versions, err := svc.List(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.Equal(t, 4, versions[0].VersionNumber)
	for i, want := range []string{"v1", "v3", "v2", "v1", "v0"} {
		assert.Equal(t, want, versions[i].Content)
	}
}

func TestRevertUnknownVersion(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "v0")
	_, err := svc.CreateInitial(ctx, doc.ID, "v0", "u1")
	require.NoError(t, err)

	_, err = svc.Revert(ctx, doc.ID, 7, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiffSegmentsAndStats(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "")
	_, err := svc.CreateInitial(ctx, doc.ID, "one\ntwo\nthree\n", "u1")
	require.NoError(t, err)

	appendChange(t, st, doc.ID, "u2", store.ChangeInsert, "2.5\n")
	appendChange(t, st, doc.ID, "u3", store.ChangeDelete, "three\n")
	_, err = svc.Create(ctx, doc.ID, "one\ntwo\n2.5\n", "u1", "")
	require.NoError(t, err)

	res, err := svc.Diff(ctx, doc.ID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FromVersion)
	assert.Equal(t, 1, res.ToVersion)

	var added, removed []Segment
	for _, seg := range res.Segments {
		switch seg.Type {
		case SegAdded:
			added = append(added, seg)
		case SegRemoved:
			removed = append(removed, seg)
		}
	}
	require.Len(t, added, 1)
	assert.Equal(t, "2.5", added[0].Content)
	assert.Equal(t, 3, added[0].StartLine)
	assert.Equal(t, "u2", added[0].UserID)

	require.Len(t, removed, 1)
	assert.Equal(t, "three", removed[0].Content)
	assert.Equal(t, 3, removed[0].StartLine)
	assert.Equal(t, "u3", removed[0].UserID)

	assert.Equal(t, 1, res.Stats.AddedLines)
	assert.Equal(t, 1, res.Stats.RemovedLines)
	assert.Equal(t, 4, res.Stats.AddedChars)
	assert.Equal(t, 6, res.Stats.RemovedChars)
	assert.Equal(t, -2, res.Stats.NetChange)
}

func TestDiffAgainstEmptyBase(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "")
	_, err := svc.CreateInitial(ctx, doc.ID, "a\nb\n", "u1")
	require.NoError(t, err)

	res, err := svc.Diff(ctx, doc.ID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, res.FromVersion)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, SegAdded, res.Segments[0].Type)
	assert.Equal(t, 1, res.Segments[0].StartLine)
	assert.Equal(t, 2, res.Segments[0].EndLine)
	// No linked entries: attribution falls back to the version creator.
	assert.Equal(t, "u1", res.Segments[0].UserID)
}

func TestDiffExplicitFromVersion(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	doc := newTestDoc(t, st, "")
	_, err := svc.CreateInitial(ctx, doc.ID, "base\n", "u1")
	require.NoError(t, err)
	for _, content := range []string{"base\nmid\n", "base\nmid\nend\n"} {
		appendChange(t, st, doc.ID, "u1", store.ChangeUpdate, content)
		_, err := svc.Create(ctx, doc.ID, content, "u1", "")
		require.NoError(t, err)
	}

	from := 0
	res, err := svc.Diff(ctx, doc.ID, 2, &from)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FromVersion)
	assert.Equal(t, 2, res.Stats.AddedLines)
}

func TestDiffAttributionNames(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertUser(ctx, &store.User{ID: "u2", Name: "Bob"}))

	doc := newTestDoc(t, st, "")
	_, err := svc.CreateInitial(ctx, doc.ID, "x\n", "u1")
	require.NoError(t, err)
	appendChange(t, st, doc.ID, "u2", store.ChangeInsert, "y\n")
	_, err = svc.Create(ctx, doc.ID, "x\ny\n", "u1", "")
	require.NoError(t, err)

	res, err := svc.Diff(ctx, doc.ID, 1, nil)
	require.NoError(t, err)
	for _, seg := range res.Segments {
		if seg.Type == SegAdded {
			assert.Equal(t, "u2", seg.UserID)
			assert.Equal(t, "Bob", seg.UserName)
		}
	}
}

func TestLineDiffCounts(t *testing.T) {
	segments, stats := lineDiff("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.NotEmpty(t, segments)
	assert.Equal(t, stats.AddedChars-stats.RemovedChars, stats.NetChange)

	// Unchanged input yields a single unchanged segment and zero stats.
	segments, stats = lineDiff("same\n", "same\n")
	require.Len(t, segments, 1)
	assert.Equal(t, SegUnchanged, segments[0].Type)
	assert.Zero(t, stats.AddedLines)
	assert.Zero(t, stats.RemovedLines)
}
