package proc

import (
	"errors"
	"fmt"

	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
)

var errNoThreads = errors.New("task has no threads")

// ListThreads enumerates the threads of the task. The caller must Release
// the returned list.
func (s *Session) ListThreads() (*mach.ThreadList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	return s.listThreads()
}

func (s *Session) listThreads() (*mach.ThreadList, error) {
	tl, err := s.kernel.TaskThreads(s.task)
	if err != nil {
		return nil, kernelErr("task_threads", ErrThreadEnumeration, err)
	}
	if len(tl.Threads) == 0 {
		tl.Release()
		return nil, kernelErr("task_threads", ErrThreadEnumeration, errNoThreads)
	}
	return tl, nil
}

// GetRegisters reads the general purpose registers of thread.
func (s *Session) GetRegisters(thread mach.Thread) (*mach.ThreadState64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRegisters(thread)
}

// SetRegisters writes the general purpose registers of thread.
func (s *Session) SetRegisters(thread mach.Thread, regs *mach.ThreadState64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(thread, regs)
}

// GetDebugState reads the debug registers of thread.
func (s *Session) GetDebugState(thread mach.Thread) (*mach.DebugState64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDebugState(thread)
}

// SetDebugState writes the debug registers of thread.
func (s *Session) SetDebugState(thread mach.Thread, st *mach.DebugState64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(thread, st)
}

func (s *Session) getState(thread mach.Thread, flavor mach.ThreadStateFlavor) (mach.ThreadState, error) {
	st, err := s.kernel.GetThreadState(thread, flavor)
	if err != nil {
		return nil, kernelErr(fmt.Sprintf("thread_get_state(%#x, %d)", thread, flavor), nil, err)
	}
	if st.Flavor() != flavor {
		return nil, fmt.Errorf("thread_get_state(%#x, %d): got flavor %d", thread, flavor, st.Flavor())
	}
	return st, nil
}

func (s *Session) getRegisters(thread mach.Thread) (*mach.ThreadState64, error) {
	st, err := s.getState(thread, mach.ARMThreadState64)
	if err != nil {
		return nil, err
	}
	return st.(*mach.ThreadState64), nil
}

func (s *Session) getDebugState(thread mach.Thread) (*mach.DebugState64, error) {
	st, err := s.getState(thread, mach.ARMDebugState64)
	if err != nil {
		return nil, err
	}
	return st.(*mach.DebugState64), nil
}

func (s *Session) getExceptionState(thread mach.Thread) (*mach.ExceptionState64, error) {
	st, err := s.getState(thread, mach.ARMExceptionState64)
	if err != nil {
		return nil, err
	}
	return st.(*mach.ExceptionState64), nil
}

func (s *Session) setState(thread mach.Thread, st mach.ThreadState) error {
	return kernelErr(fmt.Sprintf("thread_set_state(%#x, %d)", thread, st.Flavor()), nil, s.kernel.SetThreadState(thread, st))
}

// forEachThread runs fn on every thread of the task. Threads on which fn
// fails are skipped. The result is nil if fn succeeded on at least one
// thread, a *ThreadStateError if it failed on all of them.
func (s *Session) forEachThread(op string, fn func(mach.Thread) error) error {
	tl, err := s.listThreads()
	if err != nil {
		return err
	}
	defer tl.Release()

	tse := &ThreadStateError{Op: op, Threads: len(tl.Threads)}
	for _, th := range tl.Threads {
		if err := fn(th); err != nil {
			tse.Failures = append(tse.Failures, ThreadFailure{Thread: th, Err: err})
			continue
		}
		tse.Succeeded++
	}
	if tse.Succeeded == 0 {
		return tse
	}
	if len(tse.Failures) > 0 {
		logflags.KernelLogger().Warnf("%v", tse)
	}
	return nil
}

// withFirstThread runs fn on the first enumerated thread. Register access
// is limited to that thread.
func (s *Session) withFirstThread(fn func(mach.Thread) error) error {
	if err := s.checkAttached(); err != nil {
		return err
	}
	tl, err := s.listThreads()
	if err != nil {
		return err
	}
	defer tl.Release()
	return fn(tl.Threads[0])
}

// Registers returns the general purpose registers of the first thread.
func (s *Session) Registers() (*mach.ThreadState64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var regs *mach.ThreadState64
	err := s.withFirstThread(func(th mach.Thread) (err error) {
		regs, err = s.getRegisters(th)
		return err
	})
	return regs, err
}

// ProgramCounter returns the PC of the first thread.
func (s *Session) ProgramCounter() (uint64, error) {
	regs, err := s.Registers()
	if err != nil {
		return 0, err
	}
	return regs.PC, nil
}

// WriteRegister sets register name of the first thread to value. An
// invalid name is rejected before any kernel call.
func (s *Session) WriteRegister(name string, value uint64) error {
	reg, err := ParseRegister(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFirstThread(func(th mach.Thread) error {
		regs, err := s.getRegisters(th)
		if err != nil {
			return err
		}
		reg.Set(regs, value)
		return s.setState(th, regs)
	})
}

// ThreadDebugState is the debug register bank of one thread.
type ThreadDebugState struct {
	Thread mach.Thread
	State  mach.DebugState64
}

// DebugRegisters returns the debug registers of every thread that could
// be read.
func (s *Session) DebugRegisters() ([]ThreadDebugState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	var r []ThreadDebugState
	err := s.forEachThread("read debug state", func(th mach.Thread) error {
		st, err := s.getDebugState(th)
		if err != nil {
			return err
		}
		r = append(r, ThreadDebugState{Thread: th, State: *st})
		return nil
	})
	return r, err
}

// ThreadExceptionState is the exception state of one thread.
type ThreadExceptionState struct {
	Thread mach.Thread
	State  mach.ExceptionState64
}

// ExceptionRegisters returns the fault address, syndrome and exception
// number of every thread that could be read.
func (s *Session) ExceptionRegisters() ([]ThreadExceptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	var r []ThreadExceptionState
	err := s.forEachThread("read exception state", func(th mach.Thread) error {
		st, err := s.getExceptionState(th)
		if err != nil {
			return err
		}
		r = append(r, ThreadExceptionState{Thread: th, State: *st})
		return nil
	})
	return r, err
}
