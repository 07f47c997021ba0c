//go:build windows

package job

import (
	"os/exec"
	"strconv"
)

// killTree makes cancellation take down the child's whole process tree
// (py.exe launchers start the real interpreter as a grandchild).
func killTree(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
		if err := kill.Run(); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
