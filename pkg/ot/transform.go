package ot

// Transform returns the form a must take to be applied after b has been
// applied to the same base state, preserving both users' intentions.
//
// If either operand is a retain, or the operands target different
// documents, a is returned unchanged. A delete never transforms into a
// retain: it may come out zero-length, but the type is stable because
// consumers rely on it.
func Transform(a, b Operation) Operation {
	if a.Type == OpRetain || b.Type == OpRetain {
		return a
	}
	if a.DocumentID != b.DocumentID {
		return a
	}

	switch {
	case a.Type == OpInsert && b.Type == OpInsert:
		return transformInsertInsert(a, b)
	case a.Type == OpInsert && b.Type == OpDelete:
		return transformInsertDelete(a, b)
	case a.Type == OpDelete && b.Type == OpInsert:
		return transformDeleteInsert(a, b)
	case a.Type == OpDelete && b.Type == OpDelete:
		return transformDeleteDelete(a, b)
	}
	return a
}

// TransformAgainst folds Transform over history in order, skipping entries
// that carry the operation's own id.
func TransformAgainst(op Operation, history []Operation) Operation {
	out := op
	for _, h := range history {
		if h.OperationID != 0 && h.OperationID == op.OperationID {
			continue
		}
		out = Transform(out, h)
	}
	return out
}

// earlier reports whether a precedes b in the total operation order.
// Server-assigned operation ids are the order source; when either id is
// missing the user id breaks the tie. Lower is earlier.
func earlier(a, b Operation) bool {
	if a.OperationID != 0 && b.OperationID != 0 {
		return a.OperationID < b.OperationID
	}
	return a.UserID < b.UserID
}

func transformInsertInsert(a, b Operation) Operation {
	switch {
	case a.Position < b.Position:
		// a lands before b's insertion point.
	case a.Position > b.Position:
		a.Position += len(b.Content)
	default:
		// Same position: the earlier operation keeps its place.
		if !earlier(a, b) {
			a.Position += len(b.Content)
		}
	}
	return a
}

func transformInsertDelete(a, b Operation) Operation {
	switch {
	case a.Position < b.Position:
		// Insert lands before the deleted range.
	case a.Position > b.Position+b.Length:
		a.Position -= b.Length
	default:
		// Insert falls inside (or at the edge of) the deleted range:
		// collapse to its start.
		a.Position = b.Position
	}
	return a
}

func transformDeleteInsert(a, b Operation) Operation {
	ins := len(b.Content)
	end := a.Position + a.Length

	switch {
	case end <= b.Position:
		// Delete range ends before the insertion point.
		return a
	case a.Position >= b.Position+ins:
		a.Position += ins
		return a
	}

	// The insertion lands inside the delete range. Only one operation is
	// emitted, so keep the portion of the range at or past the insertion
	// point when it is non-empty (the usual "delete past the just-inserted
	// text" intent), else the portion before it, else an empty delete.
	afterStart := a.Position
	if b.Position > afterStart {
		afterStart = b.Position
	}
	afterLen := end - afterStart

	switch {
	case afterLen > 0:
		a.Position = afterStart + ins
		a.Length = afterLen
	case a.Position < b.Position:
		a.Length = b.Position - a.Position
	default:
		a.Position = b.Position + ins
		a.Length = 0
	}
	return a
}

func transformDeleteDelete(a, b Operation) Operation {
	aEnd := a.Position + a.Length
	bEnd := b.Position + b.Length

	switch {
	case aEnd <= b.Position:
		// a is entirely before b.
		return a
	case a.Position >= bEnd:
		a.Position -= b.Length
		return a
	}

	// Overlapping ranges: shrink a by the overlap and place the remainder
	// at the start of the non-overlapped portion. The result stays a
	// delete even at zero length.
	overlapStart := a.Position
	if b.Position > overlapStart {
		overlapStart = b.Position
	}
	overlapEnd := aEnd
	if bEnd < overlapEnd {
		overlapEnd = bEnd
	}
	overlap := overlapEnd - overlapStart

	if a.Position >= b.Position {
		a.Position = b.Position
	}
	a.Length -= overlap
	if a.Length < 0 {
		a.Length = 0
	}
	return a
}
