//go:build !windows

package process

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether pid is a running, non-zombie process.
func Alive(pid int) bool {
	if pid <= 0 || !processExists(pid) {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		// exists but unreadable; trust kill(0)
		return true
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return false
		}
	}
	return true
}

// StartTime returns the OS-reported start time of pid, or the zero time when
// it cannot be determined.
func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
