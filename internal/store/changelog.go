package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AppendChange appends an entry to the change log and fills in its
// database-assigned id. A zero timestamp is stamped now. Entries are
// never mutated afterwards except for version linking.
func (s *Store) AppendChange(ctx context.Context, e *ChangeEntry) error {
	if e.Timestamp == 0 {
		e.Timestamp = nowMillis()
	}

	if s.driver == "postgres" {
		err := s.db.QueryRowContext(ctx, s.db.Rebind(
			`INSERT INTO change_tracking (document_id, user_id, change_type, content, position, timestamp, version_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			e.DocumentID, e.UserID, e.ChangeType, e.Content, e.Position, e.Timestamp, e.VersionID,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("append change: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO change_tracking (document_id, user_id, change_type, content, position, timestamp, version_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.DocumentID, e.UserID, e.ChangeType, e.Content, e.Position, e.Timestamp, e.VersionID)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append change id: %w", err)
	}
	return nil
}

// ChangesByDocument lists a document's change log ordered by timestamp,
// ties broken by insertion id.
func (s *Store) ChangesByDocument(ctx context.Context, docID string, descending bool) ([]ChangeEntry, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	var entries []ChangeEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(fmt.Sprintf(
		`SELECT id, document_id, user_id, change_type, content, position, timestamp, version_id
		 FROM change_tracking WHERE document_id = ?
		 ORDER BY timestamp %s, id %s`, order, order)), docID)
	if err != nil {
		return nil, fmt.Errorf("changes for %s: %w", docID, err)
	}
	return entries, nil
}

// UnversionedChanges lists entries not yet covered by any version.
func (s *Store) UnversionedChanges(ctx context.Context, docID string) ([]ChangeEntry, error) {
	var entries []ChangeEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(
		`SELECT id, document_id, user_id, change_type, content, position, timestamp, version_id
		 FROM change_tracking WHERE document_id = ? AND version_id IS NULL
		 ORDER BY timestamp ASC, id ASC`), docID)
	if err != nil {
		return nil, fmt.Errorf("unversioned changes for %s: %w", docID, err)
	}
	return entries, nil
}

// ChangesByVersion lists the entries linked to one version.
func (s *Store) ChangesByVersion(ctx context.Context, versionID string) ([]ChangeEntry, error) {
	var entries []ChangeEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(
		`SELECT id, document_id, user_id, change_type, content, position, timestamp, version_id
		 FROM change_tracking WHERE version_id = ?
		 ORDER BY timestamp ASC, id ASC`), versionID)
	if err != nil {
		return nil, fmt.Errorf("changes for version %s: %w", versionID, err)
	}
	return entries, nil
}

// LinkUnversionedToVersion binds all currently unversioned entries of a
// document to the given version id.
func (s *Store) LinkUnversionedToVersion(ctx context.Context, docID, versionID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE change_tracking SET version_id = ?
		 WHERE document_id = ? AND version_id IS NULL`), versionID, docID)
	if err != nil {
		return fmt.Errorf("link changes %s -> %s: %w", docID, versionID, err)
	}
	return nil
}

// UnlinkFromVersions clears the version binding for entries linked to any
// of the given version ids.
func (s *Store) UnlinkFromVersions(ctx context.Context, docID string, versionIDs []string) error {
	if len(versionIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE change_tracking SET version_id = NULL
		 WHERE document_id = ? AND version_id IN (?)`, docID, versionIDs)
	if err != nil {
		return fmt.Errorf("unlink changes %s: %w", docID, err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("unlink changes %s: %w", docID, err)
	}
	return nil
}
