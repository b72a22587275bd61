package proc

import (
	"errors"

	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
)

// Action is the response a handler chooses for an exception.
type Action uint8

const (
	// SuspendAndNotify suspends the task, notifies the operator and
	// acknowledges the exception.
	SuspendAndNotify Action = iota
	// Ignore acknowledges the exception without stopping the task.
	Ignore
	// Decline returns failure to the kernel, which then tries the next
	// handler in line.
	Decline
)

func (a Action) String() string {
	switch a {
	case SuspendAndNotify:
		return "suspend-and-notify"
	case Ignore:
		return "ignore"
	case Decline:
		return "decline"
	}
	return "unknown"
}

// ExceptionEvent is an exception delivered to the debugger.
type ExceptionEvent struct {
	Exception mach.ExceptionType
	Thread    mach.Thread
	Task      mach.Task
	Codes     []int64
}

// Code returns the first exception code.
func (ev *ExceptionEvent) Code() int64 {
	if len(ev.Codes) > 0 {
		return ev.Codes[0]
	}
	return 0
}

// ExceptionHandler decides what to do with an exception.
type ExceptionHandler interface {
	HandleException(ev *ExceptionEvent) Action
}

// HandlerFunc adapts a function to ExceptionHandler.
type HandlerFunc func(ev *ExceptionEvent) Action

func (f HandlerFunc) HandleException(ev *ExceptionEvent) Action {
	return f(ev)
}

// HandlerTable maps exception types to their handler. Exceptions without
// a handler are declined.
type HandlerTable map[mach.ExceptionType]ExceptionHandler

// DefaultHandlers stops the target on every exception of
// DefaultExceptionMask.
func DefaultHandlers() HandlerTable {
	stop := HandlerFunc(func(*ExceptionEvent) Action { return SuspendAndNotify })
	return HandlerTable{
		mach.ExcBadAccess:      stop,
		mach.ExcBreakpoint:     stop,
		mach.ExcBadInstruction: stop,
		mach.ExcArithmetic:     stop,
		mach.ExcSoftware:       stop,
		mach.ExcSyscall:        stop,
	}
}

// Notifier receives operator notifications. It is called from the
// listener goroutine, concurrently with whatever the caller is doing.
type Notifier interface {
	ExceptionRaised(ev *ExceptionEvent)
}

type suspender interface {
	suspendFromListener() error
}

// ExceptionListener receives exception messages on the debugger's port
// and replies to them.
type ExceptionListener struct {
	kernel   mach.Kernel
	port     mach.Port
	handlers HandlerTable
	target   suspender
	notifier Notifier
	log      logflags.Logger
	done     chan struct{}
}

func startListener(kernel mach.Kernel, port mach.Port, handlers HandlerTable, target suspender, notifier Notifier) *ExceptionListener {
	l := &ExceptionListener{
		kernel:   kernel,
		port:     port,
		handlers: handlers,
		target:   target,
		notifier: notifier,
		log:      logflags.ExceptionsLogger().WithField("port", port),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Done is closed when the listener exits.
func (l *ExceptionListener) Done() <-chan struct{} {
	return l.done
}

func (l *ExceptionListener) run() {
	defer close(l.done)
	for {
		msg, err := l.kernel.ReceiveException(l.port)
		if err != nil {
			var kr mach.KernReturn
			if !errors.As(err, &kr) {
				l.log.Errorf("exception listener exiting: %v", err)
				return
			}
			if kr.PortGone() {
				l.log.Debugf("exception port gone (%v), exiting", kr)
				return
			}
			l.log.Errorf("receive failed: %v", err)
			continue
		}
		l.dispatch(msg)
	}
}

func (l *ExceptionListener) dispatch(msg *mach.ExceptionMessage) {
	var ret mach.KernReturn
	switch msg.ID {
	case mach.MsgIDRaise:
		ret = l.handle(msg)
	case mach.MsgIDRaiseState, mach.MsgIDRaiseStateIdentity:
		ret = mach.KernFailure
	default:
		ret = mach.MigBadID
	}
	l.log.Debugf("message %d %v thread %#x codes %#x: reply %v", msg.ID, msg.Exception, msg.Thread, msg.Codes, ret)
	if err := l.kernel.SendReply(msg.Reply(ret)); err != nil {
		l.log.Errorf("reply to message %d failed: %v", msg.ID, err)
	}
	if msg.Thread != 0 {
		l.kernel.DeallocatePort(mach.Port(msg.Thread))
	}
	if msg.Task != 0 {
		l.kernel.DeallocatePort(mach.Port(msg.Task))
	}
}

func (l *ExceptionListener) handle(msg *mach.ExceptionMessage) mach.KernReturn {
	h := l.handlers[msg.Exception]
	if h == nil {
		return mach.KernFailure
	}
	ev := &ExceptionEvent{
		Exception: msg.Exception,
		Thread:    msg.Thread,
		Task:      msg.Task,
		Codes:     append([]int64(nil), msg.Codes...),
	}
	switch h.HandleException(ev) {
	case SuspendAndNotify:
		if err := l.target.suspendFromListener(); err != nil {
			l.log.Errorf("could not suspend target after %v: %v", ev.Exception, err)
		}
		if l.notifier != nil {
			l.notifier.ExceptionRaised(ev)
		} else {
			l.log.Infof("caught exception %v on thread %#x, code=%#x", ev.Exception, ev.Thread, ev.Code())
		}
		return mach.KernSuccess
	case Ignore:
		return mach.KernSuccess
	default:
		return mach.KernFailure
	}
}
