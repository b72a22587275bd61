package proc

import (
	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
)

// DefaultExceptionMask selects the exceptions redirected to the debugger.
const DefaultExceptionMask = mach.ExceptionMask(1<<mach.ExcBadAccess |
	1<<mach.ExcBreakpoint |
	1<<mach.ExcBadInstruction |
	1<<mach.ExcArithmetic |
	1<<mach.ExcSoftware |
	1<<mach.ExcSyscall)

// exceptionBehavior is what the debugger's port is registered with:
// plain mach_exception_raise messages with 64 bit codes.
const exceptionBehavior = mach.BehaviorDefault | mach.MachExceptionCodes

// ExceptionPorts replaces the exception handlers of a task with a private
// port and puts the previous handlers back on Restore.
type ExceptionPorts struct {
	kernel mach.Kernel
	task   mach.Task
	mask   mach.ExceptionMask
	port   mach.Port
	// saved holds one tuple per distinct previous handler. The send
	// rights to the saved ports are owned by us until Restore.
	saved []mach.ExceptionPortInfo
	log   logflags.Logger
}

// installExceptionPorts saves the handlers of task for mask and registers
// a freshly allocated port in their place. On failure every resource
// allocated so far is released and the task is left untouched.
func installExceptionPorts(kernel mach.Kernel, task mach.Task, mask mach.ExceptionMask) (*ExceptionPorts, error) {
	ep := &ExceptionPorts{kernel: kernel, task: task, mask: mask, log: logflags.ExceptionsLogger()}

	saved, err := kernel.GetExceptionPorts(task, mask)
	if err != nil {
		return nil, kernelErr("task_get_exception_ports", ErrPortSetup, err)
	}
	ep.saved = saved

	port, err := kernel.AllocateReceivePort()
	if err != nil {
		ep.releaseSaved()
		return nil, kernelErr("mach_port_allocate", ErrPortSetup, err)
	}
	ep.port = port

	if err := kernel.InsertSendRight(port); err != nil {
		ep.Shutdown()
		ep.releaseSaved()
		return nil, kernelErr("mach_port_insert_right", ErrPortSetup, err)
	}

	if err := kernel.SetExceptionPorts(task, mask, port, exceptionBehavior, mach.ThreadStateNone); err != nil {
		ep.Shutdown()
		ep.releaseSaved()
		return nil, kernelErr("task_set_exception_ports", ErrPortSetup, err)
	}
	ep.log.Debugf("installed exception port %#x for mask %#x, saved %d handlers", port, mask, len(saved))
	return ep, nil
}

// Port returns the receive right the listener waits on.
func (ep *ExceptionPorts) Port() mach.Port {
	return ep.port
}

// Saved returns a copy of the saved handler tuples.
func (ep *ExceptionPorts) Saved() []mach.ExceptionPortInfo {
	return append([]mach.ExceptionPortInfo(nil), ep.saved...)
}

// Restore reinstalls every saved handler whose port is not null. All
// tuples are attempted; the first failure is returned.
func (ep *ExceptionPorts) Restore() error {
	var first error
	for _, info := range ep.saved {
		if info.Port == mach.PortNull {
			continue
		}
		err := ep.kernel.SetExceptionPorts(ep.task, info.Mask, info.Port, info.Behavior, info.Flavor)
		if err != nil {
			ep.log.Errorf("could not restore handler %#x for mask %#x: %v", info.Port, info.Mask, err)
			if first == nil {
				first = kernelErr("task_set_exception_ports", nil, err)
			}
		}
	}
	ep.releaseSaved()
	return first
}

func (ep *ExceptionPorts) releaseSaved() {
	for _, info := range ep.saved {
		if info.Port == mach.PortNull {
			continue
		}
		if err := ep.kernel.DeallocatePort(info.Port); err != nil {
			ep.log.Warnf("could not release saved handler %#x: %v", info.Port, err)
		}
	}
	ep.saved = nil
}

// Shutdown destroys the receive right. A listener blocked on it wakes up
// with a port destroyed error and exits.
func (ep *ExceptionPorts) Shutdown() error {
	if ep.port == mach.PortNull {
		return nil
	}
	err := ep.kernel.DestroyPort(ep.port)
	ep.port = mach.PortNull
	return kernelErr("mach_port_destroy", nil, err)
}
