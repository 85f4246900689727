//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the adapter in its own session so killProcessGroup
// can reach every descendant it spawns (debugpy itself forks the
// target interpreter as a child).
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func terminateProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup force-kills pid's entire process group. A negative
// pid targets the group; ESRCH means it is already gone.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err.Error() != "os: process already finished" {
			return err
		}
	}
	return nil
}

func exitPayload(err error) map[string]any {
	payload := map[string]any{}
	if err == nil {
		payload["exitCode"] = 0
		return payload
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		payload["error"] = err.Error()
		return payload
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		payload["error"] = err.Error()
		return payload
	}
	if status.Signaled() {
		payload["signal"] = status.Signal().String()
	} else {
		payload["exitCode"] = status.ExitStatus()
	}
	return payload
}
