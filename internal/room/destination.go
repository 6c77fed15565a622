package room

import (
	"hash/fnv"
	"strings"
)

// Destination kinds. Subscribing to any non-cursor destination triggers a
// room join; all of them are gated on the edit predicate.
type DestKind int

const (
	KindDocument   DestKind = iota // legacy change broadcasts
	KindOperations                 // transformed operations
	KindCursors                    // cursor relay
	KindUsers                      // presence events
)

// DestDocument is the legacy broadcast destination for a document.
func DestDocument(documentID string) string {
	return "/" + documentID
}

// DestOperations carries transformed operations in server order.
func DestOperations(documentID string) string {
	return "/" + documentID + "/operations"
}

// DestCursors carries relayed cursor updates.
func DestCursors(documentID string) string {
	return "/" + documentID + "/cursors"
}

// DestUsers carries presence events.
func DestUsers(documentID string) string {
	return "/" + documentID + "/users"
}

// ParseDestination splits a subscription path into its document id and
// kind. Returns ok=false for anything that is not one of the four
// destination shapes.
func ParseDestination(dest string) (documentID string, kind DestKind, ok bool) {
	if !strings.HasPrefix(dest, "/") {
		return "", 0, false
	}
	parts := strings.Split(dest[1:], "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], KindDocument, true
	case len(parts) == 2 && parts[0] != "":
		switch parts[1] {
		case "operations":
			return parts[0], KindOperations, true
		case "cursors":
			return parts[0], KindCursors, true
		case "users":
			return parts[0], KindUsers, true
		}
	}
	return "", 0, false
}

// cursorPalette is the set of cursor colors assigned to users.
var cursorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#FFA07A",
}

// ColorFor returns the cursor color for a user. The same user id always
// maps to the same color on every node.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}
