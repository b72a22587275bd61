//go:build darwin

package mach

import (
	"syscall"

	sys "golang.org/x/sys/unix"
)

const (
	ptDetach    = 11
	ptAttachExc = 14
)

// ptraceAttachExc attaches to pid and asks the kernel to deliver signals
// as Mach exceptions.
func ptraceAttachExc(pid int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, ptAttachExc, uintptr(pid), 0, 0, 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

func ptraceDetach(pid int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, ptDetach, uintptr(pid), 1, 0, 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}
