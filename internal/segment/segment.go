// Package segment manages the on-disk ring of buffer segments written by the
// capture process: naming, discovery, chronological ordering and deletion.
// The store never assigns indices; ffmpeg's segment muxer does.
package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/logging"
)

const (
	// Prefix starts every segment file name.
	Prefix = "buf-"
	// Ext is the segment container extension (MPEG transport stream).
	Ext = ".ts"
	// IndexWidth is the zero-padded width of the segment counter.
	IndexWidth = 5
)

// Segment is one fixed-duration file of the ring buffer. Only the newest
// segment may still be growing.
type Segment struct {
	Index   int       `json:"index"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Name returns the segment's file name.
func (s Segment) Name() string {
	return filepath.Base(s.Path)
}

// Store discovers and prunes segments in one ring-buffer directory.
type Store struct {
	dir string
	log *zap.SugaredLogger
}

// NewStore returns a Store for dir. The directory is not created.
func NewStore(dir string, log *zap.SugaredLogger) *Store {
	return &Store{dir: dir, log: logging.OrNop(log)}
}

// Dir returns the ring-buffer directory.
func (s *Store) Dir() string {
	return s.dir
}

// Pattern returns the output pattern handed to ffmpeg's segment muxer.
func (s *Store) Pattern() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%%0%dd%s", Prefix, IndexWidth, Ext))
}

// FileName returns the segment file name for index i.
func FileName(i int) string {
	return fmt.Sprintf("%s%0*d%s", Prefix, IndexWidth, i, Ext)
}

// ParseIndex extracts the counter from a segment file name. It reports false
// for names that do not follow the buf-NNNNN.ts convention.
func ParseIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Ext)
	if len(digits) < IndexWidth {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// List returns every segment in the directory, oldest first. Ordering is by
// modification time with the index breaking ties. A file removed between
// reading the directory and stating it is skipped. A missing directory is
// an empty buffer, not an error.
func (s *Store) List() ([]Segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("segment: read dir %s: %w", s.dir, err)
	}

	segs := make([]Segment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := ParseIndex(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Stat race with a concurrent prune: the file is gone, skip it.
			s.log.Debugw("segment vanished during listing", "name", e.Name(), "error", err)
			continue
		}
		segs = append(segs, Segment{
			Index:   idx,
			Path:    filepath.Join(s.dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.SliceStable(segs, func(i, j int) bool {
		if !segs[i].ModTime.Equal(segs[j].ModTime) {
			return segs[i].ModTime.Before(segs[j].ModTime)
		}
		return segs[i].Index < segs[j].Index
	})
	return segs, nil
}

// Count returns the number of live segments, or 0 if the directory cannot
// be read.
func (s *Store) Count() int {
	segs, err := s.List()
	if err != nil {
		return 0
	}
	return len(segs)
}

// Newest returns the n most recent segments in chronological order. Fewer
// are returned when the buffer holds fewer than n.
func (s *Store) Newest(n int) ([]Segment, error) {
	segs, err := s.List()
	if err != nil {
		return nil, err
	}
	return Tail(segs, n), nil
}

// Tail returns the last n entries of an oldest-first slice.
func Tail(segs []Segment, n int) []Segment {
	if n <= 0 {
		return nil
	}
	if n >= len(segs) {
		return segs
	}
	return segs[len(segs)-n:]
}

// DeleteOldest removes the n oldest segments and returns how many files were
// actually removed.
func (s *Store) DeleteOldest(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	segs, err := s.List()
	if err != nil {
		return 0, err
	}
	if n > len(segs) {
		n = len(segs)
	}
	return s.Delete(segs[:n]), nil
}

// Delete removes the given segments. Each removal is best effort: a file
// already gone is not an error, and other failures are logged and skipped.
func (s *Store) Delete(segs []Segment) int {
	removed := 0
	for _, seg := range segs {
		ok, err := removeIgnoringMissing(seg.Path)
		if err != nil {
			s.log.Warnw("failed to delete segment", "path", seg.Path, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed
}

// removeIgnoringMissing deletes path, treating "does not exist" as success
// without counting it as a removal.
func removeIgnoringMissing(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
