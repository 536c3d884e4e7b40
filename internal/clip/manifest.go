package clip

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/segment"
)

// ManifestPattern is the os.CreateTemp pattern for concat manifests.
const ManifestPattern = "concat-*.txt"

// WriteManifest writes an ffmpeg concat list for segs into dir and returns
// its path. The caller removes it.
func WriteManifest(dir string, segs []segment.Segment) (string, error) {
	f, err := os.CreateTemp(dir, ManifestPattern)
	if err != nil {
		return "", fmt.Errorf("clip: create manifest: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, s := range segs {
		p, err := filepath.Abs(s.Path)
		if err != nil {
			p = s.Path
		}
		fmt.Fprintf(w, "file %s\n", quote(filepath.ToSlash(p)))
	}
	err = w.Flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("clip: write manifest: %w", err)
	}
	return f.Name(), nil
}

// quote wraps s in single quotes the way ffmpeg's concat demuxer parses
// them: an embedded quote closes the string, is escaped, and reopens it.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
