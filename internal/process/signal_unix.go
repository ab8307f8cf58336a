//go:build !windows

package process

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup signals every process in the group led by pid. The child was
// started with Setpgid, so its pgid equals its pid.
func killGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == unix.ESRCH {
		// group leader already gone; fall back to the pid itself
		err = unix.Kill(pid, sig)
	}
	return err
}

// processExists reports whether pid names a live (possibly zombie) process.
func processExists(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
