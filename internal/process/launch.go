package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// SyncFD is the file descriptor on which a daemon signals readiness by
// writing a single byte.
const SyncFD = 3

// Launch starts spec as a new process group with stdout redirected to a
// fresh generation-0 log file, then blocks until the child writes its
// readiness byte on SyncFD, the child dies, timeout elapses or ctx is done.
// On any failure no process is left behind: a spawned child is killed and
// reaped before Launch returns.
func Launch(ctx context.Context, spec Spec, timeout time.Duration) (*Child, error) {
	if err := os.MkdirAll(spec.LogDir, 0o750); err != nil {
		return nil, resourceErr("create log directory", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, processErr("create sync pipe", err)
	}
	defer func() { _ = pr.Close() }()

	// #nosec G302 G304 -- log path is built from a validated daemon name
	logFile, err := os.OpenFile(spec.LogFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		_ = pw.Close()
		return nil, resourceErr("open log file", err)
	}

	cmd := spec.BuildCommand()
	configureSysProcAttr(cmd)
	cmd.Stdout = logFile
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pw} // becomes SyncFD in the child

	startErr := cmd.Start()
	// the child holds its own copies now
	_ = pw.Close()
	_ = logFile.Close()
	if startErr != nil {
		return nil, processErr("start "+spec.Command, startErr)
	}
	child := newChild(spec.Name, cmd)

	ready := make(chan error, 1)
	go func() {
		var b [1]byte
		n, err := pr.Read(b[:])
		if n == 1 {
			ready <- nil
			return
		}
		if err == nil {
			err = io.EOF
		}
		ready <- err
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-ready:
		if err == nil {
			return child, nil
		}
		oc := child.Kill()
		return nil, fmt.Errorf("%w: %s: %v", ErrSyncFailed, spec.Name, oc)
	case <-expired:
		child.Kill()
		return nil, fmt.Errorf("%w: %s after %s", ErrStartTimeout, spec.Name, timeout)
	case <-ctx.Done():
		child.Kill()
		return nil, fmt.Errorf("%w: %s: %w", ErrStartTimeout, spec.Name, ctx.Err())
	}
}
