package version

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SegmentType classifies one run of lines in a line diff.
type SegmentType string

const (
	SegAdded     SegmentType = "ADDED"
	SegRemoved   SegmentType = "REMOVED"
	SegUnchanged SegmentType = "UNCHANGED"
)

// Segment is a contiguous run of lines sharing one diff type. Line
// numbers are 1-based: removed segments are numbered against the older
// version, added and unchanged segments against the newer one. UserID
// and UserName are filled for added and removed segments when
// attribution resolves.
type Segment struct {
	Type      SegmentType `json:"type"`
	Content   string      `json:"content"`
	StartLine int         `json:"startLine"`
	EndLine   int         `json:"endLine"`
	UserID    string      `json:"userId,omitempty"`
	UserName  string      `json:"userName,omitempty"`
}

// Stats aggregates a diff. NetChange is in characters and may be
// negative.
type Stats struct {
	AddedLines   int `json:"addedLines"`
	RemovedLines int `json:"removedLines"`
	AddedChars   int `json:"addedChars"`
	RemovedChars int `json:"removedChars"`
	NetChange    int `json:"netChange"`
}

// DiffResult is the comparison of two versions of one document.
type DiffResult struct {
	DocumentID  string    `json:"documentId"`
	FromVersion int       `json:"fromVersion"`
	ToVersion   int       `json:"toVersion"`
	Segments    []Segment `json:"segments"`
	Stats       Stats     `json:"stats"`
}

// lineDiff computes line-granular segments between two contents using
// diff-match-patch in line mode.
func lineDiff(from, to string) ([]Segment, Stats) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var (
		segments []Segment
		stats    Stats
		fromLine = 1
		toLine   = 1
	)
	for _, d := range diffs {
		n := countLines(d.Text)
		if n == 0 {
			continue
		}
		content := strings.TrimSuffix(d.Text, "\n")

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			segments = append(segments, Segment{
				Type:      SegUnchanged,
				Content:   content,
				StartLine: toLine,
				EndLine:   toLine + n - 1,
			})
			fromLine += n
			toLine += n
		case diffmatchpatch.DiffDelete:
			segments = append(segments, Segment{
				Type:      SegRemoved,
				Content:   content,
				StartLine: fromLine,
				EndLine:   fromLine + n - 1,
			})
			stats.RemovedLines += n
			stats.RemovedChars += len(d.Text)
			fromLine += n
		case diffmatchpatch.DiffInsert:
			segments = append(segments, Segment{
				Type:      SegAdded,
				Content:   content,
				StartLine: toLine,
				EndLine:   toLine + n - 1,
			})
			stats.AddedLines += n
			stats.AddedChars += len(d.Text)
			toLine += n
		}
	}
	stats.NetChange = stats.AddedChars - stats.RemovedChars
	return segments, stats
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
