// Package testutil provides fixtures shared by recorder package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
)

// BaseTime is the modification time of the first fixture segment.
var BaseTime = time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)

// WriteSegments creates segments buf-<first>.ts .. buf-<last>.ts in dir,
// spaced gap apart starting at BaseTime, and returns their paths in order.
func WriteSegments(t testing.TB, dir string, first, last int, gap time.Duration) []string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	var paths []string
	for i := first; i <= last; i++ {
		p := filepath.Join(dir, segment.FileName(i))
		if err := os.WriteFile(p, []byte("ts"), 0644); err != nil {
			t.Fatal(err)
		}
		mt := BaseTime.Add(time.Duration(i-first) * gap)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

// Names returns the base names of segs.
func Names(segs []segment.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Name()
	}
	return out
}

// FileNames returns buf-<first>.ts .. buf-<last>.ts.
func FileNames(first, last int) []string {
	var out []string
	for i := first; i <= last; i++ {
		out = append(out, segment.FileName(i))
	}
	return out
}
