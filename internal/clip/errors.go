package clip

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration rejects a zero or negative clip length.
	ErrInvalidDuration = errors.New("clip: duration must be positive")
	// ErrInsufficientSpace means the output volume is below MinAssemblyFree.
	ErrInsufficientSpace = errors.New("clip: insufficient free space to save clip")
	// ErrNoSegments means the buffer is empty; recording may not have started yet.
	ErrNoSegments = errors.New("clip: no segments found")
)

// AssemblyError is returned when both the stream copy and the re-encode
// failed.
type AssemblyError struct {
	Fast     error
	Fallback error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("clip: assembly failed: copy: %v; re-encode: %v", e.Fast, e.Fallback)
}

func (e *AssemblyError) Unwrap() []error {
	return []error{e.Fast, e.Fallback}
}
