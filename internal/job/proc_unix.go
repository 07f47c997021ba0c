//go:build unix

package job

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killTree puts the child in its own process group so a timeout or shutdown
// kills wrapper launchers and everything they spawned.
func killTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
