package supervisor

import (
	"os"
	"syscall"
)

// sysProcAttr puts the child in its own process group so shell pipelines are signaled as
// a whole. Pdeathsig is a Linux-only safety net: if the wrapper dies without running its
// exit hook, the kernel sends SIGTERM to the direct child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		return p.Signal(sig)
	}
	return nil
}
