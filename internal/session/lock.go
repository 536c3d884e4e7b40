package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockFileName marks a buffer directory as owned by a running recorder.
const LockFileName = ".lock"

// ErrBufferLocked means another live recorder owns the buffer directory.
var ErrBufferLocked = errors.New("session: buffer directory is in use by another recorder")

type lockInfo struct {
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
}

// acquireLock claims dir for sessionID. A lock left by a recorder that is
// no longer running is taken over.
func acquireLock(dir, sessionID string) (release func() error, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("session: create buffer dir: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	data, err := json.Marshal(lockInfo{SessionID: sessionID, PID: os.Getpid()})
	if err != nil {
		return nil, fmt.Errorf("session: marshal lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr = errors.Join(werr, cerr); werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("session: write lock: %w", werr)
			}
			return func() error { return releaseLock(path, sessionID) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("session: create lock: %w", err)
		}

		held, readErr := readLock(path)
		if readErr == nil && held.PID > 0 && ProcessAlive(held.PID) {
			return nil, fmt.Errorf("%w (session %s, pid %d)", ErrBufferLocked, held.SessionID, held.PID)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("session: remove stale lock: %w", err)
		}
	}
	return nil, ErrBufferLocked
}

func readLock(path string) (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

// releaseLock removes the lock only if it still belongs to sessionID.
func releaseLock(path, sessionID string) error {
	held, err := readLock(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && held.SessionID != sessionID {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: release lock: %w", err)
	}
	return nil
}
