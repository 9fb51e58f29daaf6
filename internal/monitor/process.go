package monitor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// LivenessChecker reports whether a process is still running.
type LivenessChecker interface {
	Alive(pid int) bool
}

// LivenessFunc adapts a function to LivenessChecker.
type LivenessFunc func(pid int) bool

func (f LivenessFunc) Alive(pid int) bool { return f(pid) }

// ProcessLiveness checks the OS process table. Zombies count as dead: the
// CLI has exited and only its exit status remains.
type ProcessLiveness struct{}

func (ProcessLiveness) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.Status()
	if err != nil {
		// Status is unsupported on some platforms; existence is enough.
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}
