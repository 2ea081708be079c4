//go:build !windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the spawned server from the controlling terminal
// by starting it in its own session, so `spigot serve -d` survives the
// shell that launched it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// isProcessRunning reports whether the pid from the pidfile still names a
// live process. Signal 0 checks deliverability without delivering anything.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// stopProcess asks the daemon to shut down with SIGTERM; the server's
// signal handler drains in-flight requests before exiting.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
