package proc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc/arm64util"
)

// State is the lifecycle state of a Session.
type State uint8

const (
	Detached State = iota
	Attaching
	Attached
	Detaching
)

func (st State) String() string {
	switch st {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case Detaching:
		return "detaching"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Options configures a Session.
type Options struct {
	// Notifier receives exceptions handled with SuspendAndNotify. It is
	// called from the listener goroutine.
	Notifier Notifier
	// Handlers overrides DefaultHandlers.
	Handlers HandlerTable
	// ExceptionMask selects the exceptions redirected to the debugger,
	// DefaultExceptionMask if zero.
	ExceptionMask mach.ExceptionMask
	// PtraceAttach runs the process-local attach primitive before taking
	// over the exception ports.
	PtraceAttach bool
	// AutoSlide resolves and enables the ASLR slide after attaching.
	AutoSlide bool
}

// Session is the debugger's connection to one target process.
type Session struct {
	kernel  mach.Kernel
	opts    Options
	selfPid int
	log     logflags.Logger
	memlog  logflags.Logger

	mu       sync.Mutex
	state    State
	pid      int
	task     mach.Task
	ptraced  bool
	stepping bool
	ports    *ExceptionPorts
	listener *ExceptionListener

	// liveTask mirrors task while the exception port is being served and
	// is read by the listener without taking mu.
	liveTask atomic.Uint32

	breakpoints *Registry
	watchpoints *Registry

	slide        uint64
	slideEnabled bool
}

// New returns a detached session that will talk to kernel.
func New(kernel mach.Kernel, opts Options) *Session {
	if opts.Handlers == nil {
		opts.Handlers = DefaultHandlers()
	}
	if opts.ExceptionMask == 0 {
		opts.ExceptionMask = DefaultExceptionMask
	}
	return &Session{
		kernel:      kernel,
		opts:        opts,
		selfPid:     unix.Getpid(),
		log:         logflags.DebuggerLogger(),
		memlog:      logflags.MemoryLogger(),
		breakpoints: newRegistry(arm64util.Breakpoint),
		watchpoints: newRegistry(arm64util.Watchpoint),
	}
}

// SetAttachOptions changes the PtraceAttach and AutoSlide options used
// by the next Attach.
func (s *Session) SetAttachOptions(ptraceAttach, autoSlide bool) {
	s.mu.Lock()
	s.opts.PtraceAttach = ptraceAttach
	s.opts.AutoSlide = autoSlide
	s.mu.Unlock()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the attached process id, or 0.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *Session) checkAttached() error {
	if s.state != Attached {
		return ErrNotAttached
	}
	return nil
}

// Attach takes control of process pid. The task is suspended before the
// exception ports are redirected and is left suspended.
func (s *Session) Attach(pid int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Detached {
		return 0, ErrAlreadyAttached
	}
	if pid == s.selfPid {
		return 0, ErrSelfAttach
	}
	s.state = Attaching
	if err := s.attach(pid); err != nil {
		s.state = Detached
		return 0, err
	}
	s.state = Attached
	s.log.Infof("attached to %d, task %#x, exception port %#x", pid, s.task, s.ports.Port())

	if s.opts.AutoSlide {
		if slide, err := s.resolveSlide(); err != nil {
			s.log.Warnf("auto slide: %v", err)
		} else {
			s.slide, s.slideEnabled = slide, true
		}
	}
	return pid, nil
}

func (s *Session) attach(pid int) (err error) {
	var cleanup []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if s.opts.PtraceAttach {
		if err := s.kernel.AttachExc(pid); err != nil {
			kind := ErrPermissionDenied
			if errors.Is(err, unix.ESRCH) || errors.Is(err, mach.ErrNoSuchProcess) {
				kind = ErrNoSuchProcess
			}
			return kernelErr("ptrace(PT_ATTACHEXC)", kind, err)
		}
		cleanup = append(cleanup, func() { s.kernel.DetachExc(pid) })
	}

	task, err := s.kernel.TaskForPid(pid)
	if err != nil {
		kind := ErrPermissionDenied
		if errors.Is(err, mach.ErrNoSuchProcess) {
			kind = ErrNoSuchProcess
		}
		return kernelErr("task_for_pid", kind, err)
	}
	cleanup = append(cleanup, func() { s.kernel.DeallocatePort(mach.Port(task)) })

	if err := s.kernel.TaskSuspend(task); err != nil {
		return kernelErr("task_suspend", nil, err)
	}
	cleanup = append(cleanup, func() { s.kernel.TaskResume(task) })

	ports, err := installExceptionPorts(s.kernel, task, s.opts.ExceptionMask)
	if err != nil {
		return err
	}

	s.pid = pid
	s.task = task
	s.liveTask.Store(uint32(task))
	s.ptraced = s.opts.PtraceAttach
	s.ports = ports
	s.listener = startListener(s.kernel, ports.Port(), s.opts.Handlers, s, s.opts.Notifier)
	return nil
}

// Detach restores the exception ports, destroys the listener's receive
// right and releases the task. Every step is attempted; the first failure
// is returned. The target is not resumed.
func (s *Session) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return err
	}
	s.state = Detaching
	s.liveTask.Store(0)

	var first error
	keep := func(err error) {
		if err == nil {
			return
		}
		s.log.Errorf("detach: %v", err)
		if first == nil {
			first = err
		}
	}

	keep(s.ports.Restore())
	keep(s.ports.Shutdown())
	if s.ptraced {
		keep(kernelErr("ptrace(PT_DETACH)", nil, s.kernel.DetachExc(s.pid)))
	}
	keep(kernelErr("mach_port_deallocate", nil, s.kernel.DeallocatePort(mach.Port(s.task))))

	s.log.Infof("detached from %d", s.pid)
	s.pid, s.task, s.ptraced, s.stepping = 0, 0, false, false
	s.ports, s.listener = nil, nil
	s.breakpoints.reset()
	s.watchpoints.reset()
	s.slide, s.slideEnabled = 0, false
	s.state = Detached
	return first
}

// Interrupt suspends the task.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return err
	}
	return kernelErr("task_suspend", nil, s.kernel.TaskSuspend(s.task))
}

// Resume resumes the task. If a single step is pending the step bit is
// cleared first so that the task runs freely.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return err
	}
	if s.stepping {
		if err := s.setSingleStep(false); err != nil {
			return err
		}
	}
	return kernelErr("task_resume", nil, s.kernel.TaskResume(s.task))
}

// SingleStep sets the single step bit on every thread and resumes the
// task.
func (s *Session) SingleStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return err
	}
	if err := s.setSingleStep(true); err != nil {
		return err
	}
	return kernelErr("task_resume", nil, s.kernel.TaskResume(s.task))
}

func (s *Session) setSingleStep(on bool) error {
	err := s.forEachThread("single step", func(th mach.Thread) error {
		st, err := s.getDebugState(th)
		if err != nil {
			return err
		}
		drs := arm64util.NewDebugRegisters(st)
		drs.SetSingleStep(on)
		if !drs.Dirty {
			return nil
		}
		return s.setState(th, st)
	})
	if err != nil {
		return err
	}
	s.stepping = on
	return nil
}

// suspendFromListener is called by the listener goroutine.
// It must not wait on mu: the faulting thread stays blocked until the
// reply is sent.
func (s *Session) suspendFromListener() error {
	task := mach.Task(s.liveTask.Load())
	if task == 0 {
		return ErrNotAttached
	}
	return kernelErr("task_suspend", nil, s.kernel.TaskSuspend(task))
}
