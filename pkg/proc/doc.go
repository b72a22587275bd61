// Package proc is the process control engine of phantom.
//
// A Session owns the task port of one attached process and implements
// every operation the shell can request: execution control, register and
// debug register access, hardware breakpoints and watchpoints, memory
// access with transient page re-protection and ASLR slide handling.
//
// Exceptions raised by the target are received by an ExceptionListener
// goroutine that runs concurrently with the caller. The listener only
// suspends the task and notifies the operator; it never touches the
// breakpoint registries. Its notifications may be printed in the middle of
// the output of a command.
package proc
