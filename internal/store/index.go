package store

import "github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"

// lineRange is the [start, end) byte range of one line in the JSONL file.
type lineRange struct {
	start int64
	end   int64
}

// fileIndex keeps saved-clip summaries and the byte range of each clip's
// line, so ClipEvent can read the full event back with file.ReadAt.
type fileIndex struct {
	clips    []ClipRecord
	ranges   map[string]lineRange // clip ID → line
	failures int
}

func newFileIndex() *fileIndex {
	return &fileIndex{ranges: make(map[string]lineRange)}
}

// onAppend updates the index after e was written at lineOffset.
func (idx *fileIndex) onAppend(e event.Event, session string, lineOffset, lineLen int64) {
	switch e.Kind {
	case event.ClipSaved:
		idx.clips = append(idx.clips, recordFrom(e, session))
		if e.ClipID != "" {
			idx.ranges[e.ClipID] = lineRange{start: lineOffset, end: lineOffset + lineLen}
		}
	case event.ClipFailed:
		idx.failures++
	}
}

func recordFrom(e event.Event, session string) ClipRecord {
	return ClipRecord{
		ID:        e.ClipID,
		Path:      e.ClipPath,
		Requested: e.Requested,
		Nominal:   e.Nominal,
		Segments:  e.Segments,
		Reencoded: e.Reencoded,
		Label:     e.Label,
		SavedAt:   e.Timestamp,
		Session:   session,
	}
}
