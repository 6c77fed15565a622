package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordContribution upserts a user's per-document edit aggregate: one
// more edit, plus the characters added and deleted by it.
func (s *Store) RecordContribution(ctx context.Context, docID, userID string, added, deleted int) error {
	now := nowMillis()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO user_contributions
			(id, document_id, user_id, edit_count, characters_added, characters_deleted, first_contribution, last_contribution)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT (document_id, user_id) DO UPDATE SET
			edit_count = user_contributions.edit_count + 1,
			characters_added = user_contributions.characters_added + excluded.characters_added,
			characters_deleted = user_contributions.characters_deleted + excluded.characters_deleted,
			last_contribution = excluded.last_contribution`),
		uuid.NewString(), docID, userID, added, deleted, now, now)
	if err != nil {
		return fmt.Errorf("record contribution %s/%s: %w", docID, userID, err)
	}
	return nil
}

// ContributionsByDocument lists per-user aggregates for a document,
// heaviest contributors first.
func (s *Store) ContributionsByDocument(ctx context.Context, docID string) ([]Contribution, error) {
	var contribs []Contribution
	err := s.db.SelectContext(ctx, &contribs, s.db.Rebind(
		`SELECT id, document_id, user_id, edit_count, characters_added, characters_deleted, first_contribution, last_contribution
		 FROM user_contributions WHERE document_id = ?
		 ORDER BY edit_count DESC, user_id ASC`), docID)
	if err != nil {
		return nil, fmt.Errorf("contributions for %s: %w", docID, err)
	}
	return contribs, nil
}
