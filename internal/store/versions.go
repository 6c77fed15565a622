package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertVersion appends a version snapshot. The unique
// (document_id, version_number) constraint rejects duplicates, which
// keeps version numbers strictly increasing even under races.
func (s *Store) InsertVersion(ctx context.Context, v *Version) error {
	if v.CreatedAt == 0 {
		v.CreatedAt = nowMillis()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO document_versions (id, document_id, version_number, content, created_by, created_at, change_description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		v.ID, v.DocumentID, v.VersionNumber, v.Content, v.CreatedBy, v.CreatedAt, v.ChangeDescription)
	if err != nil {
		return fmt.Errorf("insert version %d for %s: %w", v.VersionNumber, v.DocumentID, err)
	}
	return nil
}

// LatestVersion returns the highest-numbered version of a document, or
// ErrNotFound when none exists yet.
func (s *Store) LatestVersion(ctx context.Context, docID string) (*Version, error) {
	var v Version
	err := s.db.GetContext(ctx, &v, s.db.Rebind(
		`SELECT id, document_id, version_number, content, created_by, created_at, change_description
		 FROM document_versions WHERE document_id = ?
		 ORDER BY version_number DESC LIMIT 1`), docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest version of %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest version of %s: %w", docID, err)
	}
	return &v, nil
}

// VersionByNumber returns one specific version, or ErrNotFound.
func (s *Store) VersionByNumber(ctx context.Context, docID string, number int) (*Version, error) {
	var v Version
	err := s.db.GetContext(ctx, &v, s.db.Rebind(
		`SELECT id, document_id, version_number, content, created_by, created_at, change_description
		 FROM document_versions WHERE document_id = ? AND version_number = ?`), docID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d of %s: %w", number, docID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("version %d of %s: %w", number, docID, err)
	}
	return &v, nil
}

// ListVersions returns a document's versions newest first.
func (s *Store) ListVersions(ctx context.Context, docID string) ([]Version, error) {
	var versions []Version
	err := s.db.SelectContext(ctx, &versions, s.db.Rebind(
		`SELECT id, document_id, version_number, content, created_by, created_at, change_description
		 FROM document_versions WHERE document_id = ?
		 ORDER BY version_number DESC`), docID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", docID, err)
	}
	return versions, nil
}
