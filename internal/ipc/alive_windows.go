//go:build windows

package ipc

import "os"

// processAlive checks whether the pid can be opened. FindProcess fails on
// Windows when the process does not exist.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
