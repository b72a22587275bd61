package machtest

import (
	"fmt"

	"github.com/phantom-dbg/phantom/pkg/mach"
)

func (k *Kernel) TaskForPid(pid int) (mach.Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("TaskForPid"); err != nil {
		return 0, err
	}
	p := k.procs[pid]
	if p == nil {
		return 0, fmt.Errorf("%w: %v", mach.ErrNoSuchProcess, mach.KernFailure)
	}
	if p.denied {
		return 0, mach.KernFailure
	}
	k.refs[mach.Port(p.task)]++
	return p.task, nil
}

func (k *Kernel) TaskSuspend(task mach.Task) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("TaskSuspend"); err != nil {
		return err
	}
	p, err := k.task(task)
	if err != nil {
		return err
	}
	p.suspend++
	return nil
}

func (k *Kernel) TaskResume(task mach.Task) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("TaskResume"); err != nil {
		return err
	}
	p, err := k.task(task)
	if err != nil {
		return err
	}
	if p.suspend == 0 {
		return mach.KernFailure
	}
	p.suspend--
	return nil
}

func (k *Kernel) TaskThreads(task mach.Task) (*mach.ThreadList, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("TaskThreads"); err != nil {
		return nil, err
	}
	p, err := k.task(task)
	if err != nil {
		return nil, err
	}
	threads := make([]mach.Thread, len(p.threads))
	for i, th := range p.threads {
		threads[i] = th.Name
		k.refs[mach.Port(th.Name)]++
	}
	k.listsOut++
	return mach.NewThreadList(threads, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		for _, th := range threads {
			k.refs[mach.Port(th)]--
		}
		k.listsOut--
		return nil
	}), nil
}

func (k *Kernel) GetThreadState(thread mach.Thread, flavor mach.ThreadStateFlavor) (mach.ThreadState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	th, err := k.enterThread("GetThreadState", thread)
	if err != nil {
		return nil, err
	}
	switch flavor {
	case mach.ARMThreadState64:
		st := th.GPR
		return &st, nil
	case mach.ARMDebugState64:
		st := th.Dbg
		return &st, nil
	case mach.ARMExceptionState64:
		st := th.Exc
		return &st, nil
	}
	return nil, mach.KernInvalidArgument
}

func (k *Kernel) SetThreadState(thread mach.Thread, state mach.ThreadState) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	th, err := k.enterThread("SetThreadState", thread)
	if err != nil {
		return err
	}
	switch st := state.(type) {
	case *mach.ThreadState64:
		th.GPR = *st
	case *mach.DebugState64:
		th.Dbg = *st
	case *mach.ExceptionState64:
		th.Exc = *st
	default:
		return mach.KernInvalidArgument
	}
	return nil
}

func (k *Kernel) GetExceptionPorts(task mach.Task, mask mach.ExceptionMask) ([]mach.ExceptionPortInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("GetExceptionPorts"); err != nil {
		return nil, err
	}
	p, err := k.task(task)
	if err != nil {
		return nil, err
	}
	infos := p.handlerInfo(mask)
	for _, info := range infos {
		if info.Port != mach.PortNull {
			k.refs[info.Port]++
		}
	}
	return infos, nil
}

func (k *Kernel) SetExceptionPorts(task mach.Task, mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.ThreadStateFlavor) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("SetExceptionPorts"); err != nil {
		return err
	}
	p, err := k.task(task)
	if err != nil {
		return err
	}
	if port != mach.PortNull && k.refs[port] <= 0 {
		return mach.KernInvalidRight
	}
	for e := 1; e < mach.ExcTypesCount; e++ {
		if mask.Has(mach.ExceptionType(e)) {
			p.handlers[e] = handler{port, behavior, flavor}
		}
	}
	return nil
}

func (k *Kernel) AllocateReceivePort() (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("AllocateReceivePort"); err != nil {
		return mach.PortNull, err
	}
	name := k.newName()
	k.receivers[name] = &receiveRight{
		queue: make(chan *mach.ExceptionMessage, 16),
		errs:  make(chan mach.KernReturn, 4),
		dead:  make(chan struct{}),
	}
	return name, nil
}

func (k *Kernel) InsertSendRight(port mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("InsertSendRight"); err != nil {
		return err
	}
	if k.receivers[port] == nil {
		return mach.KernInvalidName
	}
	k.refs[port]++
	return nil
}

func (k *Kernel) DestroyPort(port mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("DestroyPort"); err != nil {
		return err
	}
	rr := k.receivers[port]
	if rr == nil && k.refs[port] <= 0 {
		return mach.KernInvalidName
	}
	if rr != nil {
		close(rr.dead)
		delete(k.receivers, port)
	}
	delete(k.refs, port)
	k.destroyed = append(k.destroyed, port)
	return nil
}

func (k *Kernel) DeallocatePort(port mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("DeallocatePort"); err != nil {
		return err
	}
	if k.refs[port] <= 0 {
		return mach.KernInvalidName
	}
	k.refs[port]--
	k.deallocated = append(k.deallocated, port)
	return nil
}

func (k *Kernel) ReceiveException(port mach.Port) (*mach.ExceptionMessage, error) {
	k.mu.Lock()
	err := k.enter("ReceiveException")
	rr := k.receivers[port]
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if rr == nil {
		return nil, mach.RcvInvalidName
	}
	select {
	case kr := <-rr.errs:
		return nil, kr
	case <-rr.dead:
		return nil, mach.RcvPortDied
	default:
	}
	k.mu.Lock()
	k.waiting[port]++
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.waiting[port]--
		k.mu.Unlock()
	}()
	select {
	case msg := <-rr.queue:
		return msg, nil
	case kr := <-rr.errs:
		return nil, kr
	case <-rr.dead:
		return nil, mach.RcvPortDied
	}
}

func (k *Kernel) SendReply(reply *mach.ExceptionReply) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("SendReply"); err != nil {
		return err
	}
	ch := k.replies[reply.Port]
	if ch == nil {
		return mach.SendInvalidDest
	}
	delete(k.replies, reply.Port)
	r := *reply
	ch <- &r
	return nil
}

func (k *Kernel) pageOf(p *Process, addr uint64) *page {
	return p.pages[addr&^(k.pageSize-1)]
}

func (k *Kernel) ReadMemory(task mach.Task, addr uint64, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("ReadMemory"); err != nil {
		return 0, err
	}
	p, err := k.task(task)
	if err != nil {
		return 0, err
	}
	n := len(buf)
	if k.shortRead > 0 && n > k.shortRead {
		n = k.shortRead
	}
	for i := 0; i < n; i++ {
		pg := k.pageOf(p, addr+uint64(i))
		if pg == nil {
			return 0, mach.KernInvalidAddress
		}
		if pg.prot&mach.ProtRead == 0 {
			return 0, mach.KernProtectionFailure
		}
		buf[i] = pg.data[(addr+uint64(i))&(k.pageSize-1)]
	}
	return n, nil
}

func (k *Kernel) WriteMemory(task mach.Task, addr uint64, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("WriteMemory"); err != nil {
		return err
	}
	p, err := k.task(task)
	if err != nil {
		return err
	}
	for i := range data {
		pg := k.pageOf(p, addr+uint64(i))
		if pg == nil {
			return mach.KernInvalidAddress
		}
		if pg.prot&mach.ProtWrite == 0 {
			return mach.KernProtectionFailure
		}
	}
	for i, b := range data {
		a := addr + uint64(i)
		k.pageOf(p, a).data[a&(k.pageSize-1)] = b
	}
	return nil
}

func (k *Kernel) Region(task mach.Task, addr uint64) (mach.Region, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("Region"); err != nil {
		return mach.Region{}, err
	}
	p, err := k.task(task)
	if err != nil {
		return mach.Region{}, err
	}
	base := addr &^ (k.pageSize - 1)
	pg := p.pages[base]
	if pg == nil {
		return mach.Region{}, mach.KernInvalidAddress
	}
	r := mach.Region{Start: base, Size: k.pageSize, Protection: pg.prot, MaxProt: mach.ProtRead | mach.ProtWrite | mach.ProtExecute}
	for next := p.pages[r.Start+r.Size]; next != nil && next.prot == pg.prot; next = p.pages[r.Start+r.Size] {
		r.Size += k.pageSize
	}
	return r, nil
}

func (k *Kernel) Protect(task mach.Task, addr, size uint64, prot mach.VMProt) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("Protect"); err != nil {
		return err
	}
	p, err := k.task(task)
	if err != nil {
		return err
	}
	start := addr &^ (k.pageSize - 1)
	for a := start; a < addr+size; a += k.pageSize {
		if p.pages[a] == nil {
			return mach.KernInvalidAddress
		}
	}
	for a := start; a < addr+size; a += k.pageSize {
		p.pages[a].prot = prot &^ mach.ProtCopy
	}
	return nil
}

func (k *Kernel) DyldInfo(task mach.Task) (mach.DyldInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("DyldInfo"); err != nil {
		return mach.DyldInfo{}, err
	}
	p, err := k.task(task)
	if err != nil {
		return mach.DyldInfo{}, err
	}
	return p.dyld, nil
}

func (k *Kernel) PageSize() uint64 {
	return k.pageSize
}

func (k *Kernel) AttachExc(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("AttachExc"); err != nil {
		return err
	}
	p := k.procs[pid]
	if p == nil {
		return mach.ErrNoSuchProcess
	}
	p.traced = true
	return nil
}

func (k *Kernel) DetachExc(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("DetachExc"); err != nil {
		return err
	}
	p := k.procs[pid]
	if p == nil || !p.traced {
		return mach.KernInvalidArgument
	}
	p.traced = false
	return nil
}
