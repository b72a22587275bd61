// Package machtest implements an in-memory Mach kernel for tests.
//
// The simulated kernel tracks every right it hands out to the debugger
// (task and thread send rights, receive rights, rights carried by
// exception messages, saved handler ports) so that tests can assert that
// a detached session leaks nothing.
package machtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/phantom-dbg/phantom/pkg/mach"
)

const DefaultPageSize = 0x4000

// Kernel is a simulated mach.Kernel.
type Kernel struct {
	mu sync.Mutex

	pageSize uint64
	nextName mach.Port

	procs    map[int]*Process
	byTask   map[mach.Task]*Process
	byThread map[mach.Thread]*Thread

	// refs counts the user references the debugger holds on each name.
	refs      map[mach.Port]int
	receivers map[mach.Port]*receiveRight
	replies   map[mach.Port]chan *mach.ExceptionReply
	// waiting counts the receivers blocked on each port.
	waiting map[mach.Port]int

	fail       map[string]mach.KernReturn
	failThread map[string]map[mach.Thread]mach.KernReturn
	failNth    map[string]*nthFailure
	shortRead  int

	calls       []string
	listsOut    int
	deallocated []mach.Port
	destroyed   []mach.Port
}

type nthFailure struct {
	n  int
	kr mach.KernReturn
}

type receiveRight struct {
	queue chan *mach.ExceptionMessage
	errs  chan mach.KernReturn
	dead  chan struct{}
}

// NewKernel returns an empty simulated kernel.
func NewKernel() *Kernel {
	return &Kernel{
		pageSize:   DefaultPageSize,
		nextName:   0x103,
		procs:      make(map[int]*Process),
		byTask:     make(map[mach.Task]*Process),
		byThread:   make(map[mach.Thread]*Thread),
		refs:       make(map[mach.Port]int),
		receivers:  make(map[mach.Port]*receiveRight),
		replies:    make(map[mach.Port]chan *mach.ExceptionReply),
		waiting:    make(map[mach.Port]int),
		fail:       make(map[string]mach.KernReturn),
		failThread: make(map[string]map[mach.Thread]mach.KernReturn),
		failNth:    make(map[string]*nthFailure),
	}
}

var _ mach.Kernel = (*Kernel)(nil)

func (k *Kernel) newName() mach.Port {
	n := k.nextName
	k.nextName += 0x100
	return n
}

// Process is a simulated target.
type Process struct {
	k *Kernel

	Pid      int
	task     mach.Task
	threads  []*Thread
	pages    map[uint64]*page
	handlers [mach.ExcTypesCount]handler
	suspend  int
	traced   bool
	denied   bool
	dyld     mach.DyldInfo
}

// Thread is a simulated thread of a Process.
type Thread struct {
	Name mach.Thread
	GPR  mach.ThreadState64
	Dbg  mach.DebugState64
	Exc  mach.ExceptionState64
}

type page struct {
	data []byte
	prot mach.VMProt
}

type handler struct {
	port     mach.Port
	behavior mach.Behavior
	flavor   mach.ThreadStateFlavor
}

// AddProcess creates a process with nthreads threads.
func (k *Kernel) AddProcess(pid, nthreads int) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := &Process{k: k, Pid: pid, task: mach.Task(k.newName()), pages: make(map[uint64]*page)}
	for i := 0; i < nthreads; i++ {
		th := &Thread{Name: mach.Thread(k.newName())}
		p.threads = append(p.threads, th)
		k.byThread[th.Name] = th
	}
	k.procs[pid] = p
	k.byTask[p.task] = p
	return p
}

// Deny makes TaskForPid fail for this process as it does without the
// debugging entitlement.
func (p *Process) Deny() {
	p.k.mu.Lock()
	p.denied = true
	p.k.mu.Unlock()
}

// Map maps [addr, addr+size) rounded out to whole pages with protection prot.
func (p *Process) Map(addr, size uint64, prot mach.VMProt) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	ps := p.k.pageSize
	for a := addr &^ (ps - 1); a < addr+size; a += ps {
		p.pages[a] = &page{data: make([]byte, ps), prot: prot}
	}
}

// Poke writes data ignoring page protection.
func (p *Process) Poke(addr uint64, data []byte) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	for i, b := range data {
		a := addr + uint64(i)
		pg := p.pages[a&^(p.k.pageSize-1)]
		if pg == nil {
			panic(fmt.Sprintf("machtest: poke at unmapped address %#x", a))
		}
		pg.data[a&(p.k.pageSize-1)] = b
	}
}

// Peek reads n bytes ignoring page protection.
func (p *Process) Peek(addr uint64, n int) []byte {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		a := addr + uint64(i)
		pg := p.pages[a&^(p.k.pageSize-1)]
		if pg == nil {
			panic(fmt.Sprintf("machtest: peek at unmapped address %#x", a))
		}
		out[i] = pg.data[a&(p.k.pageSize-1)]
	}
	return out
}

// Protection returns the protection of the page containing addr.
func (p *Process) Protection(addr uint64) mach.VMProt {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if pg := p.pages[addr&^(p.k.pageSize-1)]; pg != nil {
		return pg.prot
	}
	return mach.ProtNone
}

// SetDyldInfo sets the address reported by task_info(TASK_DYLD_INFO).
func (p *Process) SetDyldInfo(addr, size uint64) {
	p.k.mu.Lock()
	p.dyld = mach.DyldInfo{AllImageInfoAddr: addr, AllImageInfoSize: size, AllImageInfoFormat: 1}
	p.k.mu.Unlock()
}

// SetHandler installs a pre-existing exception handler, as launchd or a
// crash reporter would have before the debugger attaches. The port is
// owned by the simulated kernel, not by the debugger.
func (p *Process) SetHandler(mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.ThreadStateFlavor) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	for e := 1; e < mach.ExcTypesCount; e++ {
		if mask.Has(mach.ExceptionType(e)) {
			p.handlers[e] = handler{port, behavior, flavor}
		}
	}
}

// Handlers returns the current exception port table in the format of
// task_get_exception_ports.
func (p *Process) Handlers(mask mach.ExceptionMask) []mach.ExceptionPortInfo {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.handlerInfo(mask)
}

func (p *Process) handlerInfo(mask mach.ExceptionMask) []mach.ExceptionPortInfo {
	var out []mach.ExceptionPortInfo
next:
	for e := 1; e < mach.ExcTypesCount; e++ {
		et := mach.ExceptionType(e)
		if !mask.Has(et) {
			continue
		}
		h := p.handlers[e]
		for i := range out {
			if out[i].Port == h.port && out[i].Behavior == h.behavior && out[i].Flavor == h.flavor {
				out[i].Mask |= et.Mask()
				continue next
			}
		}
		out = append(out, mach.ExceptionPortInfo{Mask: et.Mask(), Port: h.port, Behavior: h.behavior, Flavor: h.flavor})
	}
	return out
}

// Threads returns the simulated threads in enumeration order.
func (p *Process) Threads() []*Thread {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return append([]*Thread(nil), p.threads...)
}

// Thread returns a copy of the thread's register banks.
func (p *Process) Thread(i int) Thread {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return *p.threads[i]
}

// SetRegisters overwrites the general purpose registers of thread i.
func (p *Process) SetRegisters(i int, st mach.ThreadState64) {
	p.k.mu.Lock()
	p.threads[i].GPR = st
	p.k.mu.Unlock()
}

// SetExceptionState overwrites the exception state of thread i.
func (p *Process) SetExceptionState(i int, st mach.ExceptionState64) {
	p.k.mu.Lock()
	p.threads[i].Exc = st
	p.k.mu.Unlock()
}

// SuspendCount returns the task suspend count.
func (p *Process) SuspendCount() int {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.suspend
}

// Traced reports whether AttachExc is in effect.
func (p *Process) Traced() bool {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.traced
}

// Fail makes every later call to op fail with kr. A zero kr clears it.
func (k *Kernel) Fail(op string, kr mach.KernReturn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if kr == mach.KernSuccess {
		delete(k.fail, op)
		return
	}
	k.fail[op] = kr
}

// FailThread makes op fail with kr only when it addresses thread.
func (k *Kernel) FailThread(op string, thread mach.Thread, kr mach.KernReturn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m := k.failThread[op]
	if m == nil {
		m = make(map[mach.Thread]mach.KernReturn)
		k.failThread[op] = m
	}
	if kr == mach.KernSuccess {
		delete(m, thread)
		return
	}
	m[thread] = kr
}

// FailNth makes the n-th next call to op fail with kr, once.
func (k *Kernel) FailNth(op string, n int, kr mach.KernReturn) {
	k.mu.Lock()
	k.failNth[op] = &nthFailure{n: n, kr: kr}
	k.mu.Unlock()
}

// ShortReads caps the number of bytes ReadMemory copies. Zero removes the cap.
func (k *Kernel) ShortReads(n int) {
	k.mu.Lock()
	k.shortRead = n
	k.mu.Unlock()
}

// Calls returns the names of the Kernel methods called so far.
func (k *Kernel) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

// Called reports whether op was called at least once.
func (k *Kernel) Called(op string) bool {
	for _, c := range k.Calls() {
		if c == op {
			return true
		}
	}
	return false
}

// OutstandingRights returns the names on which the debugger still holds
// send rights, and how many user references each has.
func (k *Kernel) OutstandingRights() map[mach.Port]int {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[mach.Port]int)
	for n, c := range k.refs {
		if c > 0 {
			out[n] = c
		}
	}
	return out
}

// ReceiveRights returns the live receive rights allocated by the debugger.
func (k *Kernel) ReceiveRights() []mach.Port {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []mach.Port
	for n := range k.receivers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Blocked returns how many ReceiveException calls are waiting on port.
func (k *Kernel) Blocked(port mach.Port) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.waiting[port]
}

// OutstandingThreadLists returns how many TaskThreads results have not
// been released.
func (k *Kernel) OutstandingThreadLists() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.listsOut
}

// InjectReceiveError makes the next receive on port fail with kr.
func (k *Kernel) InjectReceiveError(port mach.Port, kr mach.KernReturn) error {
	k.mu.Lock()
	rr := k.receivers[port]
	k.mu.Unlock()
	if rr == nil {
		return mach.KernInvalidName
	}
	rr.errs <- kr
	return nil
}

// Raise delivers an exception raised by thread i of p to the handler
// registered for exc, as a mach_exception_raise request. The returned
// channel receives the handler's reply.
func (k *Kernel) Raise(p *Process, i int, exc mach.ExceptionType, codes ...int64) (<-chan *mach.ExceptionReply, error) {
	k.mu.Lock()
	h := p.handlers[exc]
	thread := p.threads[i].Name
	k.mu.Unlock()
	if h.port == mach.PortNull {
		return nil, fmt.Errorf("machtest: no handler for %v", exc)
	}
	return k.Send(h.port, &mach.ExceptionMessage{
		ID:        mach.MsgIDRaise,
		Thread:    thread,
		Task:      p.task,
		Exception: exc,
		Codes:     codes,
	})
}

// Send queues msg on the receive right port. Thread and Task rights in
// msg become owned by the receiver.
func (k *Kernel) Send(port mach.Port, msg *mach.ExceptionMessage) (<-chan *mach.ExceptionReply, error) {
	k.mu.Lock()
	rr := k.receivers[port]
	if rr == nil {
		k.mu.Unlock()
		return nil, mach.SendInvalidDest
	}
	m := *msg
	m.ReplyPort = k.newName()
	m.ReplyBits = 18
	ch := make(chan *mach.ExceptionReply, 1)
	k.replies[m.ReplyPort] = ch
	if m.Thread != 0 {
		k.refs[mach.Port(m.Thread)]++
	}
	if m.Task != 0 {
		k.refs[mach.Port(m.Task)]++
	}
	k.mu.Unlock()
	rr.queue <- &m
	return ch, nil
}

func (k *Kernel) enter(op string) error {
	k.calls = append(k.calls, op)
	if kr, ok := k.fail[op]; ok {
		return kr
	}
	if f := k.failNth[op]; f != nil {
		f.n--
		if f.n == 0 {
			delete(k.failNth, op)
			return f.kr
		}
	}
	return nil
}

func (k *Kernel) enterThread(op string, thread mach.Thread) (*Thread, error) {
	if err := k.enter(op); err != nil {
		return nil, err
	}
	if kr, ok := k.failThread[op][thread]; ok {
		return nil, kr
	}
	th := k.byThread[thread]
	if th == nil || k.refs[mach.Port(thread)] <= 0 {
		return nil, mach.KernInvalidArgument
	}
	return th, nil
}

func (k *Kernel) task(task mach.Task) (*Process, error) {
	p := k.byTask[task]
	if p == nil || k.refs[mach.Port(task)] <= 0 {
		return nil, mach.KernInvalidArgument
	}
	return p, nil
}

// Destroyed returns the names passed to a successful DestroyPort.
func (k *Kernel) Destroyed() []mach.Port {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]mach.Port(nil), k.destroyed...)
}

// Deallocated returns the names passed to a successful DeallocatePort.
func (k *Kernel) Deallocated() []mach.Port {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]mach.Port(nil), k.deallocated...)
}
