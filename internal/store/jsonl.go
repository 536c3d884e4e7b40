package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// JSONL is a Store backed by an append-only JSONL file. Each line is a
// JSON-serialized event.Event. The file is synced after every Append so a
// killed recorder loses nothing already reported.
//
// Session identity: "<unix-timestamp>-<pid>.jsonl".
type JSONL struct {
	file      *os.File
	mu        sync.Mutex
	idx       *fileIndex
	sessionID string
	startedAt time.Time
	pos       int64 // current write position in the file
}

// NewJSONL creates (or reopens) the session JSONL log in dir. dir is created
// with os.MkdirAll if it does not exist.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: mkdir %q: %w", dir, err)
	}
	now := time.Now()
	sessionID := fmt.Sprintf("%d-%d", now.Unix(), os.Getpid())
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: seek: %w", err)
	}
	return &JSONL{
		file:      f,
		idx:       newFileIndex(),
		sessionID: sessionID,
		startedAt: now,
		pos:       pos,
	}, nil
}

// Path returns the session log file.
func (j *JSONL) Path() string {
	return j.file.Name()
}

// Append serializes e as a JSON line, writes it to the file, and syncs.
// It is safe to call from multiple goroutines.
func (j *JSONL) Append(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	lineOffset := j.pos
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("store: sync: %w", err)
	}
	lineLen := int64(len(data))
	j.pos += lineLen
	j.idx.onAppend(e, j.sessionID, lineOffset, lineLen)
	return nil
}

// Close closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Clips returns the clips saved in this session, oldest first. The
// returned slice is a copy.
func (j *JSONL) Clips() ([]ClipRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ClipRecord(nil), j.idx.clips...), nil
}

// ClipEvent reads the full ClipSaved event for id back from the file.
func (j *JSONL) ClipEvent(id string) (event.Event, error) {
	j.mu.Lock()
	r, ok := j.idx.ranges[id]
	j.mu.Unlock()
	if !ok {
		return event.Event{}, fmt.Errorf("store: clip %s not found", id)
	}
	buf := make([]byte, r.end-r.start)
	if _, err := j.file.ReadAt(buf, r.start); err != nil {
		return event.Event{}, fmt.Errorf("store: read clip %s: %w", id, err)
	}
	var e event.Event
	if err := json.Unmarshal(bytes.TrimSpace(buf), &e); err != nil {
		return event.Event{}, fmt.Errorf("store: parse clip %s: %w", id, err)
	}
	return e, nil
}

// SessionSummary returns counts for the current session.
func (j *JSONL) SessionSummary() (SessionSummary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := SessionSummary{
		SessionID: j.sessionID,
		StartedAt: j.startedAt,
		Clips:     len(j.idx.clips),
		Failures:  j.idx.failures,
	}
	for _, c := range j.idx.clips {
		if c.Reencoded {
			s.Reencoded++
		}
	}
	if n := len(j.idx.clips); n > 0 {
		s.LastClip = j.idx.clips[n-1].Path
	}
	return s, nil
}

// ReadAll scans every session log in dir and returns all saved clips,
// oldest first. Malformed lines are skipped. A missing dir yields nothing.
func ReadAll(dir string) ([]ClipRecord, error) {
	files, err := sessionFiles(dir)
	if err != nil {
		return nil, err
	}

	var clips []ClipRecord
	for _, name := range files {
		recs, err := readClips(filepath.Join(dir, name), strings.TrimSuffix(name, ".jsonl"))
		if err != nil {
			return nil, err
		}
		clips = append(clips, recs...)
	}
	sort.SliceStable(clips, func(a, b int) bool { return clips[a].SavedAt.Before(clips[b].SavedAt) })
	return clips, nil
}

func readClips(path, session string) ([]ClipRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	defer f.Close()

	var clips []ClipRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var e event.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.Kind == event.ClipSaved {
			clips = append(clips, recordFrom(e, session))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %q: %w", path, err)
	}
	return clips, nil
}

// sessionFiles lists the .jsonl files in dir, oldest first.
func sessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files) // timestamp-prefixed names sort chronologically
	return files, nil
}

// EnforceRetention removes the oldest session log files in dir, keeping at most
// maxKeep files. If maxKeep is 0, no files are removed. Returns nil if dir does
// not exist or is empty.
func EnforceRetention(dir string, maxKeep int) error {
	if maxKeep <= 0 {
		return nil
	}
	files, err := sessionFiles(dir)
	if err != nil {
		return err
	}

	toDelete := len(files) - maxKeep
	for i := 0; i < toDelete; i++ {
		path := filepath.Join(dir, files[i])
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove %q: %w", path, err)
		}
	}
	return nil
}
