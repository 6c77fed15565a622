// Package version manages immutable document snapshots: creation,
// listing, revert, and attributed line diffs between versions.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"collabdocs/internal/store"
)

// ErrNoChanges is returned when version creation would snapshot content
// identical to the latest version with nothing new in the change log.
var ErrNoChanges = errors.New("no changes since the latest version")

// SessionResetter evicts the in-memory session of a document so that the
// next operation reloads from persisted content.
type SessionResetter interface {
	Reset(documentID string)
}

// Service implements the version lifecycle over the store.
type Service struct {
	store    *store.Store
	sessions SessionResetter
	logger   *slog.Logger
}

// NewService wires the version service. sessions may be nil when no live
// editing layer exists (tests, offline tools).
func NewService(st *store.Store, sessions SessionResetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, sessions: sessions, logger: logger}
}

// CreateInitial records version 0 at document creation time.
func (s *Service) CreateInitial(ctx context.Context, documentID, content, userID string) (*store.Version, error) {
	v := &store.Version{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		VersionNumber:     0,
		Content:           content,
		CreatedBy:         userID,
		ChangeDescription: "Initial version",
	}
	if err := s.store.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Create snapshots content as the next version. It fails with
// ErrNoChanges when the normalized content equals the latest version's
// and no unversioned change entries exist. On success all currently
// unversioned change entries are linked to the new version and per-user
// contribution aggregates are bumped from them.
func (s *Service) Create(ctx context.Context, documentID, content, userID, description string) (*store.Version, error) {
	next := 0
	latest, err := s.store.LatestVersion(ctx, documentID)
	switch {
	case err == nil:
		next = latest.VersionNumber + 1
	case errors.Is(err, store.ErrNotFound):
		// First version of a document created before versioning existed.
	default:
		return nil, err
	}

	unversioned, err := s.store.UnversionedChanges(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if latest != nil && normalize(content) == normalize(latest.Content) && len(unversioned) == 0 {
		return nil, fmt.Errorf("document %s at version %d: %w", documentID, latest.VersionNumber, ErrNoChanges)
	}

	if description == "" {
		description = fmt.Sprintf("Version %d", next)
	}
	v := &store.Version{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		VersionNumber:     next,
		Content:           content,
		CreatedBy:         userID,
		ChangeDescription: description,
	}
	if err := s.store.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	if err := s.store.LinkUnversionedToVersion(ctx, documentID, v.ID); err != nil {
		return nil, err
	}
	if err := s.recordContributions(ctx, documentID, unversioned); err != nil {
		s.logger.Warn("contribution update failed", "documentId", documentID, "error", err)
	}

	s.logger.Info("version created",
		"documentId", documentID, "version", next, "changes", len(unversioned), "by", userID)
	return v, nil
}

// Revert restores a document to a prior version's content. Existing
// versions are never deleted or overwritten: the restore lands as a new
// version on top, the document store content is replaced, and the live
// session is evicted so the next edit starts from the restored text.
func (s *Service) Revert(ctx context.Context, documentID string, targetNumber int, userID string) (*store.Version, error) {
	target, err := s.store.VersionByNumber(ctx, documentID, targetNumber)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateContent(ctx, documentID, target.Content); err != nil {
		return nil, err
	}
	if s.sessions != nil {
		s.sessions.Reset(documentID)
	}

	v := &store.Version{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		VersionNumber:     latest.VersionNumber + 1,
		Content:           target.Content,
		CreatedBy:         userID,
		ChangeDescription: fmt.Sprintf("Restored from version %d", targetNumber),
	}
	if err := s.store.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	if err := s.store.LinkUnversionedToVersion(ctx, documentID, v.ID); err != nil {
		return nil, err
	}

	s.logger.Info("document reverted",
		"documentId", documentID, "target", targetNumber, "newVersion", v.VersionNumber, "by", userID)
	return v, nil
}

// List returns a document's versions newest first.
func (s *Service) List(ctx context.Context, documentID string) ([]store.Version, error) {
	return s.store.ListVersions(ctx, documentID)
}

// Diff compares toNumber against fromNumber, or against the immediately
// preceding version when fromNumber is nil (empty content for version 0).
// Added and removed segments are attributed by matching the change
// entries linked to the target version, falling back to the version
// creator.
func (s *Service) Diff(ctx context.Context, documentID string, toNumber int, fromNumber *int) (*DiffResult, error) {
	to, err := s.store.VersionByNumber(ctx, documentID, toNumber)
	if err != nil {
		return nil, err
	}

	fromContent := ""
	fromVersion := toNumber - 1
	if fromNumber != nil {
		fromVersion = *fromNumber
	}
	if fromVersion >= 0 {
		from, err := s.store.VersionByNumber(ctx, documentID, fromVersion)
		if err != nil {
			return nil, err
		}
		fromContent = from.Content
	}

	segments, stats := lineDiff(fromContent, to.Content)

	entries, err := s.store.ChangesByVersion(ctx, to.ID)
	if err != nil {
		return nil, err
	}
	s.attribute(ctx, segments, entries, to.CreatedBy)

	return &DiffResult{
		DocumentID:  documentID,
		FromVersion: fromVersion,
		ToVersion:   toNumber,
		Segments:    segments,
		Stats:       stats,
	}, nil
}

// attribute resolves the author of each changed segment: exact content
// match against the version's change entries first, then substring
// containment, then the version creator.
func (s *Service) attribute(ctx context.Context, segments []Segment, entries []store.ChangeEntry, fallback string) {
	for i := range segments {
		if segments[i].Type == SegUnchanged {
			continue
		}
		segments[i].UserID = matchAuthor(segments[i], entries, fallback)
	}

	ids := make([]string, 0, len(segments))
	seen := make(map[string]bool)
	for _, seg := range segments {
		if seg.UserID != "" && !seen[seg.UserID] {
			seen[seg.UserID] = true
			ids = append(ids, seg.UserID)
		}
	}
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("attribution name lookup failed", "error", err)
		return
	}
	for i := range segments {
		if u, ok := users[segments[i].UserID]; ok {
			segments[i].UserName = u.Name
		}
	}
}

func matchAuthor(seg Segment, entries []store.ChangeEntry, fallback string) string {
	wantType := store.ChangeInsert
	if seg.Type == SegRemoved {
		wantType = store.ChangeDelete
	}

	for _, e := range entries {
		if e.ChangeType == wantType && e.Content != "" && e.Content == seg.Content {
			return e.UserID
		}
	}
	for _, e := range entries {
		if e.ChangeType == wantType && e.Content != "" &&
			(strings.Contains(seg.Content, e.Content) || strings.Contains(e.Content, seg.Content)) {
			return e.UserID
		}
	}
	return fallback
}

// recordContributions folds the change entries covered by a new version
// into per-user aggregates, one upsert per user.
func (s *Service) recordContributions(ctx context.Context, documentID string, entries []store.ChangeEntry) error {
	type tally struct{ added, deleted int }
	byUser := make(map[string]*tally)
	for _, e := range entries {
		t := byUser[e.UserID]
		if t == nil {
			t = &tally{}
			byUser[e.UserID] = t
		}
		switch e.ChangeType {
		case store.ChangeInsert:
			t.added += len(e.Content)
		case store.ChangeDelete:
			t.deleted += len(e.Content)
		case store.ChangeUpdate:
			t.added += len(e.Content)
		}
	}
	for userID, t := range byUser {
		if err := s.store.RecordContribution(ctx, documentID, userID, t.added, t.deleted); err != nil {
			return err
		}
	}
	return nil
}

// normalize strips line-ending differences before the no-change
// comparison so CRLF round trips do not mint empty versions.
func normalize(content string) string {
	return strings.ReplaceAll(content, "\r\n", "\n")
}
