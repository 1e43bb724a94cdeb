package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LockInfo is the daemon.json contents: enough for a second invocation to
// find the running daemon or recognize a stale lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	Endpoint  string    `json:"ipc"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLock loads the lock file; os.ErrNotExist when absent.
func ReadLock(path string) (LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockInfo{}, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, fmt.Errorf("parse lock file: %w", err)
	}
	return info, nil
}

// WriteLock records this process as the running daemon.
func WriteLock(path, endpoint string) error {
	info := LockInfo{PID: os.Getpid(), Endpoint: endpoint, StartedAt: time.Now()}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// RemoveLock deletes the lock file on shutdown.
func RemoveLock(path string) {
	os.Remove(path)
}

// IsStale reports whether the lock's owner process is gone.
func (l LockInfo) IsStale() bool {
	if l.PID <= 0 {
		return true
	}
	return !processAlive(l.PID)
}

// ClearStale removes a stale lock and its endpoint so a fresh daemon can
// start. Returns false when a live daemon holds the lock.
func ClearStale(lockPath, socketPath string) (bool, error) {
	info, err := ReadLock(lockPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		// An unreadable lock from a crashed daemon should not wedge startup.
		RemoveLock(lockPath)
		RemoveEndpoint(socketPath)
		return true, nil
	}
	if !info.IsStale() {
		return false, nil
	}
	RemoveLock(lockPath)
	RemoveEndpoint(socketPath)
	return true, nil
}
