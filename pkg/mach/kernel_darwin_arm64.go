//go:build darwin && arm64 && cgo

package mach

// #include "mach_darwin_arm64.h"
import "C"
import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type darwinKernel struct {
	pageSize uint64
}

// Host returns the Kernel backed by the running Mach kernel.
func Host() Kernel {
	return &darwinKernel{pageSize: uint64(unix.Getpagesize())}
}

func kerr(kr C.kern_return_t) error {
	return KernReturn(kr).Err()
}

func (k *darwinKernel) TaskForPid(pid int) (Task, error) {
	var task C.task_t
	if kr := C.phantom_task_for_pid(C.int(pid), &task); kr != C.KERN_SUCCESS {
		if err := unix.Kill(pid, 0); err == unix.ESRCH {
			return 0, fmt.Errorf("%w: %v", ErrNoSuchProcess, KernReturn(kr))
		}
		return 0, KernReturn(kr)
	}
	return Task(task), nil
}

func (k *darwinKernel) TaskSuspend(task Task) error {
	return kerr(C.task_suspend(C.task_t(task)))
}

func (k *darwinKernel) TaskResume(task Task) error {
	return kerr(C.task_resume(C.task_t(task)))
}

func (k *darwinKernel) TaskThreads(task Task) (*ThreadList, error) {
	var (
		list  C.thread_act_array_t
		count C.mach_msg_type_number_t
	)
	if kr := C.task_threads(C.task_t(task), &list, &count); kr != C.KERN_SUCCESS {
		return nil, KernReturn(kr)
	}
	threads := make([]Thread, int(count))
	raw := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), int(count))
	for i := range raw {
		threads[i] = Thread(raw[i])
	}
	return NewThreadList(threads, func() error {
		return kerr(C.phantom_release_threads(list, count))
	}), nil
}

func statePointer(st ThreadState) (C.thread_state_t, C.mach_msg_type_number_t, error) {
	switch s := st.(type) {
	case *ThreadState64:
		return C.thread_state_t(unsafe.Pointer(s)), ARMThreadState64Count, nil
	case *ExceptionState64:
		return C.thread_state_t(unsafe.Pointer(s)), ARMExceptionState64Count, nil
	case *DebugState64:
		return C.thread_state_t(unsafe.Pointer(s)), ARMDebugState64Count, nil
	}
	return nil, 0, fmt.Errorf("unsupported thread state %T", st)
}

func (k *darwinKernel) GetThreadState(thread Thread, flavor ThreadStateFlavor) (ThreadState, error) {
	st, err := NewThreadState(flavor)
	if err != nil {
		return nil, err
	}
	ptr, count, err := statePointer(st)
	if err != nil {
		return nil, err
	}
	if kr := C.thread_get_state(C.thread_act_t(thread), C.thread_state_flavor_t(flavor), ptr, &count); kr != C.KERN_SUCCESS {
		return nil, KernReturn(kr)
	}
	return st, nil
}

func (k *darwinKernel) SetThreadState(thread Thread, st ThreadState) error {
	ptr, count, err := statePointer(st)
	if err != nil {
		return err
	}
	return kerr(C.thread_set_state(C.thread_act_t(thread), C.thread_state_flavor_t(st.Flavor()), ptr, count))
}

func (k *darwinKernel) GetExceptionPorts(task Task, mask ExceptionMask) ([]ExceptionPortInfo, error) {
	var (
		masks     [ExcTypesCount]C.exception_mask_t
		ports     [ExcTypesCount]C.mach_port_t
		behaviors [ExcTypesCount]C.exception_behavior_t
		flavors   [ExcTypesCount]C.thread_state_flavor_t
		count     C.mach_msg_type_number_t = ExcTypesCount
	)
	kr := C.task_get_exception_ports(C.task_t(task), C.exception_mask_t(mask), &masks[0], &count, &ports[0], &behaviors[0], &flavors[0])
	if kr != C.KERN_SUCCESS {
		return nil, KernReturn(kr)
	}
	infos := make([]ExceptionPortInfo, int(count))
	for i := range infos {
		infos[i] = ExceptionPortInfo{
			Mask:     ExceptionMask(masks[i]),
			Port:     Port(ports[i]),
			Behavior: Behavior(behaviors[i]),
			Flavor:   ThreadStateFlavor(flavors[i]),
		}
	}
	return infos, nil
}

func (k *darwinKernel) SetExceptionPorts(task Task, mask ExceptionMask, port Port, behavior Behavior, flavor ThreadStateFlavor) error {
	return kerr(C.task_set_exception_ports(C.task_t(task), C.exception_mask_t(mask), C.mach_port_t(port), C.exception_behavior_t(behavior), C.thread_state_flavor_t(flavor)))
}

func (k *darwinKernel) AllocateReceivePort() (Port, error) {
	var port C.mach_port_t
	if kr := C.phantom_allocate_receive(&port); kr != C.KERN_SUCCESS {
		return PortNull, KernReturn(kr)
	}
	return Port(port), nil
}

func (k *darwinKernel) InsertSendRight(port Port) error {
	return kerr(C.phantom_insert_send(C.mach_port_t(port)))
}

func (k *darwinKernel) DestroyPort(port Port) error {
	return kerr(C.phantom_destroy(C.mach_port_t(port)))
}

func (k *darwinKernel) DeallocatePort(port Port) error {
	return kerr(C.phantom_deallocate(C.mach_port_t(port)))
}

func (k *darwinKernel) ReceiveException(port Port) (*ExceptionMessage, error) {
	var info C.phantom_exc_info_t
	if kr := C.phantom_receive(C.mach_port_t(port), &info); kr != C.KERN_SUCCESS {
		return nil, KernReturn(kr)
	}
	msg := &ExceptionMessage{
		ID:        int32(info.id),
		ReplyPort: Port(info.reply_port),
		ReplyBits: uint32(info.reply_bits),
		Thread:    Thread(info.thread),
		Task:      Task(info.task),
		Exception: ExceptionType(info.exception),
	}
	for i := 0; i < int(info.code_count); i++ {
		msg.Codes = append(msg.Codes, int64(info.code[i]))
	}
	return msg, nil
}

func (k *darwinKernel) SendReply(reply *ExceptionReply) error {
	return kerr(C.phantom_reply(C.mach_port_t(reply.Port), C.uint32_t(reply.ReplyBits), C.int32_t(reply.ID), C.kern_return_t(reply.RetCode)))
}

func (k *darwinKernel) ReadMemory(task Task, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var outsize C.mach_vm_size_t
	kr := C.phantom_read(C.task_t(task), C.mach_vm_address_t(addr), unsafe.Pointer(&buf[0]), C.mach_vm_size_t(len(buf)), &outsize)
	if kr != C.KERN_SUCCESS {
		return 0, KernReturn(kr)
	}
	return int(outsize), nil
}

func (k *darwinKernel) WriteMemory(task Task, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return kerr(C.phantom_write(C.task_t(task), C.mach_vm_address_t(addr), unsafe.Pointer(&data[0]), C.mach_msg_type_number_t(len(data))))
}

func (k *darwinKernel) Region(task Task, addr uint64) (Region, error) {
	var (
		start         = C.mach_vm_address_t(addr)
		size          C.mach_vm_size_t
		prot, maxprot C.vm_prot_t
	)
	if kr := C.phantom_region(C.task_t(task), &start, &size, &prot, &maxprot); kr != C.KERN_SUCCESS {
		return Region{}, KernReturn(kr)
	}
	return Region{Start: uint64(start), Size: uint64(size), Protection: VMProt(prot), MaxProt: VMProt(maxprot)}, nil
}

func (k *darwinKernel) Protect(task Task, addr, size uint64, prot VMProt) error {
	return kerr(C.mach_vm_protect(C.vm_map_t(task), C.mach_vm_address_t(addr), C.mach_vm_size_t(size), 0, C.vm_prot_t(prot)))
}

func (k *darwinKernel) DyldInfo(task Task) (DyldInfo, error) {
	var (
		addr, size C.uint64_t
		format     C.int32_t
	)
	if kr := C.phantom_dyld_info(C.task_t(task), &addr, &size, &format); kr != C.KERN_SUCCESS {
		return DyldInfo{}, KernReturn(kr)
	}
	return DyldInfo{AllImageInfoAddr: uint64(addr), AllImageInfoSize: uint64(size), AllImageInfoFormat: int32(format)}, nil
}

func (k *darwinKernel) PageSize() uint64 {
	return k.pageSize
}

func (k *darwinKernel) AttachExc(pid int) error {
	return ptraceAttachExc(pid)
}

func (k *darwinKernel) DetachExc(pid int) error {
	return ptraceDetach(pid)
}
