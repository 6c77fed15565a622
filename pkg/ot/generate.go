package ot

// FromContentChange derives an operation from a whole-content update, for
// clients on the legacy text-update path that send full content instead
// of operations. Pure insertions and pure deletions are located by the
// first differing byte; anything else (including no change) comes back as
// a retain, which callers drop.
func FromContentChange(oldContent, newContent, userID, documentID string) Operation {
	oldLen := len(oldContent)
	newLen := len(newContent)

	switch {
	case newLen > oldLen:
		insertLen := newLen - oldLen
		for i := 0; i < oldLen; i++ {
			if oldContent[i] != newContent[i] {
				if oldContent[i:] != newContent[i+insertLen:] {
					// Not a single contiguous insertion.
					return Operation{Type: OpRetain, UserID: userID, DocumentID: documentID}
				}
				return Operation{
					Type:       OpInsert,
					Position:   i,
					Content:    newContent[i : i+insertLen],
					UserID:     userID,
					DocumentID: documentID,
				}
			}
		}
		// Insertion at the end.
		return Operation{
			Type:       OpInsert,
			Position:   oldLen,
			Content:    newContent[oldLen:],
			UserID:     userID,
			DocumentID: documentID,
		}

	case oldLen > newLen:
		deleteLen := oldLen - newLen
		for i := 0; i < newLen; i++ {
			if oldContent[i] != newContent[i] {
				if oldContent[i+deleteLen:] != newContent[i:] {
					return Operation{Type: OpRetain, UserID: userID, DocumentID: documentID}
				}
				return Operation{
					Type:       OpDelete,
					Position:   i,
					Length:     deleteLen,
					UserID:     userID,
					DocumentID: documentID,
				}
			}
		}
		// Deletion at the end.
		return Operation{
			Type:       OpDelete,
			Position:   newLen,
			Length:     deleteLen,
			UserID:     userID,
			DocumentID: documentID,
		}
	}

	// Equal lengths: either unchanged or a replacement the operation
	// model cannot express as a single edit.
	return Operation{Type: OpRetain, UserID: userID, DocumentID: documentID}
}
