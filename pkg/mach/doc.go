// Package mach is the kernel-facing layer of phantom.
//
// It exposes the subset of the Mach interface the debugger needs (task and
// thread ports, thread state flavors, exception ports, receive rights,
// exception messages and the vm_* calls) behind the Kernel interface, so
// that the engine in pkg/proc can run against the real kernel on
// darwin/arm64 and against the simulated kernel in pkg/mach/machtest
// everywhere else.
package mach
