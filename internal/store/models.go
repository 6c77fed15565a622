package store

// DocStatus is the lifecycle state of a document.
type DocStatus string

const (
	DocActive  DocStatus = "ACTIVE"
	DocDeleted DocStatus = "DELETED"
)

// Document is the persisted document record. Collaborators are loaded
// from the join table alongside the row. Timestamps are unix
// milliseconds.
type Document struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Content       string    `db:"content" json:"content"`
	OwnerID       string    `db:"owner_id" json:"ownerId"`
	Status        DocStatus `db:"status" json:"status"`
	CreatedAt     int64     `db:"created_at" json:"createdAt"`
	UpdatedAt     int64     `db:"updated_at" json:"updatedAt"`
	Collaborators []string  `db:"-" json:"collaboratorIds"`
}

// ChangeType categorizes a change entry.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeDelete ChangeType = "DELETE"
	ChangeUpdate ChangeType = "UPDATE"
)

// ChangeEntry is one applied operation in the append-only change log.
// VersionID is nil until a version is created that covers the entry.
// ID is assigned by the database and doubles as the insertion-order
// tiebreak when timestamps collide.
type ChangeEntry struct {
	ID         int64      `db:"id" json:"id"`
	DocumentID string     `db:"document_id" json:"documentId"`
	UserID     string     `db:"user_id" json:"userId"`
	ChangeType ChangeType `db:"change_type" json:"changeType"`
	Content    string     `db:"content" json:"content"`
	Position   int        `db:"position" json:"position"`
	Timestamp  int64      `db:"timestamp" json:"timestamp"`
	VersionID  *string    `db:"version_id" json:"versionId,omitempty"`
}

// Version is an immutable snapshot of document content. Numbers are
// strictly increasing per document, starting at 0 on creation.
type Version struct {
	ID                string `db:"id" json:"id"`
	DocumentID        string `db:"document_id" json:"documentId"`
	VersionNumber     int    `db:"version_number" json:"versionNumber"`
	Content           string `db:"content" json:"content"`
	CreatedBy         string `db:"created_by" json:"createdBy"`
	CreatedAt         int64  `db:"created_at" json:"createdAt"`
	ChangeDescription string `db:"change_description" json:"changeDescription"`
}

// Contribution aggregates a user's edits to one document. Updated each
// time a version is created.
type Contribution struct {
	ID                string `db:"id" json:"id"`
	DocumentID        string `db:"document_id" json:"documentId"`
	UserID            string `db:"user_id" json:"userId"`
	EditCount         int    `db:"edit_count" json:"editCount"`
	CharactersAdded   int    `db:"characters_added" json:"charactersAdded"`
	CharactersDeleted int    `db:"characters_deleted" json:"charactersDeleted"`
	FirstContribution int64  `db:"first_contribution" json:"firstContribution"`
	LastContribution  int64  `db:"last_contribution" json:"lastContribution"`
}

// User is the slice of the user account record this service consumes.
// Account management itself lives in another service.
type User struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	IsAdmin bool   `db:"is_admin" json:"isAdmin"`
}
