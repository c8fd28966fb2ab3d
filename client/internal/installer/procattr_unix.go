//go:build !windows

package installer

import (
	"os/exec"
	"syscall"
)

// setHelperProcAttr configures the helper process to run in a new session,
// making it independent of the parent client process. This ensures the
// helper survives when the client is stopped mid-install.
func setHelperProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
