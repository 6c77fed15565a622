package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateDocument inserts a document and its collaborator rows. A missing
// status defaults to ACTIVE and zero timestamps are stamped now.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = DocActive
	}
	now := nowMillis()
	if doc.CreatedAt == 0 {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt == 0 {
		doc.UpdatedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO documents (id, title, content, owner_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}

	for _, collab := range doc.Collaborators {
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO document_collaborators (document_id, collaborator_id) VALUES (?, ?)`),
			doc.ID, collab)
		if err != nil {
			return fmt.Errorf("add collaborator %s: %w", collab, err)
		}
	}
	return tx.Commit()
}

// GetDocument returns a document with its collaborator list, or
// ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(
		`SELECT id, title, content, owner_id, status, created_at, updated_at
		 FROM documents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	err = s.db.SelectContext(ctx, &doc.Collaborators, s.db.Rebind(
		`SELECT collaborator_id FROM document_collaborators
		 WHERE document_id = ? ORDER BY collaborator_id`), id)
	if err != nil {
		return nil, fmt.Errorf("get collaborators %s: %w", id, err)
	}
	return &doc, nil
}

// UpdateContent replaces document content and bumps updated_at.
func (s *Store) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`),
		content, nowMillis(), id)
	if err != nil {
		return fmt.Errorf("update content %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument marks a document DELETED. The row and its history stay.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`),
		DocDeleted, nowMillis(), id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddCollaborator grants a user edit access. Adding an existing
// collaborator is a no-op.
func (s *Store) AddCollaborator(ctx context.Context, docID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO document_collaborators (document_id, collaborator_id)
		 VALUES (?, ?) ON CONFLICT (document_id, collaborator_id) DO NOTHING`),
		docID, userID)
	if err != nil {
		return fmt.Errorf("add collaborator %s to %s: %w", userID, docID, err)
	}
	return nil
}

// RemoveCollaborator revokes a user's edit access. The document itself
// is kept.
func (s *Store) RemoveCollaborator(ctx context.Context, docID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM document_collaborators WHERE document_id = ? AND collaborator_id = ?`),
		docID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator %s from %s: %w", userID, docID, err)
	}
	return nil
}

// CanUserEdit reports whether the user is the owner or a collaborator of
// an ACTIVE document. Missing documents are simply not editable.
func (s *Store) CanUserEdit(ctx context.Context, docID, userID string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, s.db.Rebind(
		`SELECT EXISTS (
			SELECT 1 FROM documents d
			LEFT JOIN document_collaborators c
				ON c.document_id = d.id AND c.collaborator_id = ?
			WHERE d.id = ? AND d.status = ?
				AND (d.owner_id = ? OR c.collaborator_id IS NOT NULL)
		)`), userID, docID, DocActive, userID)
	if err != nil {
		return false, fmt.Errorf("can edit %s/%s: %w", docID, userID, err)
	}
	return ok, nil
}
