// Package diskspace reports free space on the volume holding a path.
package diskspace

import (
	"os"
	"path/filepath"
)

// Probe returns the bytes available to an unprivileged user on the volume
// holding path. Components take a Probe so tests can fake disk pressure.
type Probe func(path string) (uint64, error)

// GB is one gibibyte, the unit used for min_free_gb and status output.
const GB = 1 << 30

// Free is the Probe backed by the operating system. A path that does not
// exist yet is measured at its nearest existing parent.
func Free(path string) (uint64, error) {
	return free(existingAncestor(path))
}

// ToGB converts bytes to gibibytes.
func ToGB(b uint64) float64 {
	return float64(b) / GB
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
