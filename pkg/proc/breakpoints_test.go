package proc

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc/arm64util"
)

func TestSetBreakpointProgramsEveryThread(t *testing.T) {
	f := newAttached(t, 3)
	addrs := []uint64{0x100003a00, 0x100003b00, 0x100003c00}
	for i, addr := range addrs {
		p, err := f.s.SetBreakpoint(addr)
		if err != nil {
			t.Fatal(err)
		}
		if p.Index != i || p.Addr != addr {
			t.Fatalf("got %v, want index %d", p, i)
		}
	}
	for i := range f.p.Threads() {
		dbg := f.p.Thread(i).Dbg
		for j, addr := range addrs {
			if dbg.BVR[j] != addr || dbg.BCR[j] != arm64util.BreakpointControl {
				t.Fatalf("thread %d slot %d: %#x/%#x", i, j, dbg.BVR[j], dbg.BCR[j])
			}
		}
		if dbg.BCR[len(addrs)] != 0 {
			t.Fatalf("thread %d: extra slot programmed", i)
		}
	}
	if arm64util.BreakpointControl != 0x6d {
		t.Fatalf("breakpoint control word %#x", arm64util.BreakpointControl)
	}
	if n := f.k.OutstandingThreadLists(); n != 0 {
		t.Fatalf("%d thread lists not released", n)
	}
}

func TestSetBreakpointDuplicate(t *testing.T) {
	f := newAttached(t, 1)
	if _, err := f.s.SetBreakpoint(0x1000); err != nil {
		t.Fatal(err)
	}
	_, err := f.s.SetBreakpoint(0x1000)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	var pe PointExistsError
	if !errors.As(err, &pe) || pe.Index != 0 {
		t.Fatalf("wrong error %#v", err)
	}
	if n := len(f.s.Breakpoints()); n != 1 {
		t.Fatalf("registry has %d entries", n)
	}
	// the same address is fine in the other bank
	if _, err := f.s.SetWatchpoint(0x1000); err != nil {
		t.Fatal(err)
	}
}

func TestClearBreakpointAtShiftsEntries(t *testing.T) {
	f := newAttached(t, 2)
	const a, b, c = 0x4000, 0x5000, 0x6000
	for _, addr := range []uint64{a, b, c} {
		if _, err := f.s.SetBreakpoint(addr); err != nil {
			t.Fatal(err)
		}
	}
	p, err := f.s.ClearBreakpointAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Addr != b || p.Index != 1 {
		t.Fatalf("removed %v", p)
	}
	want := []Point{{0, a}, {1, c}}
	got := f.s.Breakpoints()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("registry %v, want %v", got, want)
	}
	for i := range f.p.Threads() {
		dbg := f.p.Thread(i).Dbg
		if dbg.BVR[1] != 0 || dbg.BCR[1] != 0 {
			t.Fatalf("thread %d: slot 1 not cleared", i)
		}
		// shifted entries keep their hardware slot
		if dbg.BVR[0] != a || dbg.BVR[2] != c {
			t.Fatalf("thread %d: slots %#x", i, dbg.BVR[:3])
		}
	}

	if _, err := f.s.ClearBreakpointAt(2); !errors.As(err, new(NoPointError)) {
		t.Fatalf("expected NoPointError, got %v", err)
	}
	if _, err := f.s.ClearBreakpointAt(-1); err == nil {
		t.Fatal("negative index accepted")
	}
}

func TestClearBreakpointByAddress(t *testing.T) {
	f := newAttached(t, 1)
	f.s.SetBreakpoint(0x4000)
	f.s.SetBreakpoint(0x8000)
	p, err := f.s.ClearBreakpoint(0x8000)
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 1 {
		t.Fatalf("removed %v", p)
	}
	_, err = f.s.ClearBreakpoint(0x8000)
	var np NoPointError
	if !errors.As(err, &np) || np.Addr != 0x8000 || np.ByIdx {
		t.Fatalf("expected NoPointError for 0x8000, got %v", err)
	}
	if f.p.Thread(0).Dbg.BCR[1] != 0 {
		t.Fatal("slot 1 still enabled")
	}
}

func TestSetBreakpointPartialFailure(t *testing.T) {
	f := newAttached(t, 3)
	bad := f.p.Thread(1).Name
	f.k.FailThread("SetThreadState", bad, mach.KernTerminated)

	p, err := f.s.SetBreakpoint(0x4000)
	if err != nil {
		t.Fatalf("partial failure should succeed: %v", err)
	}
	if p.Index != 0 {
		t.Fatalf("index %d", p.Index)
	}
	if f.p.Thread(0).Dbg.BVR[0] != 0x4000 || f.p.Thread(2).Dbg.BVR[0] != 0x4000 {
		t.Fatal("healthy threads not programmed")
	}
	if f.p.Thread(1).Dbg.BCR[0] != 0 {
		t.Fatal("failing thread programmed")
	}
}

func TestClearSkipsThreadsWithoutSlot(t *testing.T) {
	f := newAttached(t, 3)
	f.k.FailThread("SetThreadState", f.p.Thread(1).Name, mach.KernTerminated)
	if _, err := f.s.SetBreakpoint(0x4000); err != nil {
		t.Fatal(err)
	}

	before := countCalls(f.k, "SetThreadState")
	if _, err := f.s.ClearBreakpointAt(0); err != nil {
		t.Fatalf("clear touched the unprogrammed thread: %v", err)
	}
	if n := countCalls(f.k, "SetThreadState") - before; n != 2 {
		t.Fatalf("%d thread_set_state calls, want 2", n)
	}
	for i := range f.p.Threads() {
		if f.p.Thread(i).Dbg.BCR[0] != 0 {
			t.Fatalf("thread %d: slot 0 still enabled", i)
		}
	}
}

func TestSetBreakpointTotalFailureRollsBack(t *testing.T) {
	f := newAttached(t, 2)
	f.k.Fail("GetThreadState", mach.KernTerminated)

	_, err := f.s.SetBreakpoint(0x4000)
	if !errors.Is(err, ErrHardwareProgram) || !errors.Is(err, ErrPartialState) {
		t.Fatalf("expected hardware programming failure, got %v", err)
	}
	var tse *ThreadStateError
	if !errors.As(err, &tse) || len(tse.Failures) != 2 || tse.Succeeded != 0 {
		t.Fatalf("wrong aggregate %#v", err)
	}
	var kr mach.KernReturn
	if !errors.As(err, &kr) || kr != mach.KernTerminated {
		t.Fatalf("kernel status lost: %v", err)
	}
	if n := len(f.s.Breakpoints()); n != 0 {
		t.Fatalf("registry not rolled back: %d entries", n)
	}
	if n := f.k.OutstandingThreadLists(); n != 0 {
		t.Fatalf("%d thread lists not released", n)
	}
}

func TestBreakpointThreadEnumerationFailure(t *testing.T) {
	f := newAttached(t, 1)
	f.k.Fail("TaskThreads", mach.KernFailure)
	_, err := f.s.SetBreakpoint(0x4000)
	if !errors.Is(err, ErrThreadEnumeration) {
		t.Fatalf("expected ErrThreadEnumeration, got %v", err)
	}
	if n := len(f.s.Breakpoints()); n != 0 {
		t.Fatalf("registry not rolled back: %d entries", n)
	}
}

func TestClearBreakpointHardwareFailure(t *testing.T) {
	f := newAttached(t, 1)
	f.s.SetBreakpoint(0x4000)
	f.k.Fail("SetThreadState", mach.KernTerminated)
	p, err := f.s.ClearBreakpointAt(0)
	if !errors.Is(err, ErrHardwareProgram) {
		t.Fatalf("expected ErrHardwareProgram, got %v", err)
	}
	if p.Addr != 0x4000 {
		t.Fatalf("removed point not returned: %v", p)
	}
	if n := len(f.s.Breakpoints()); n != 0 {
		t.Fatalf("registry still has %d entries", n)
	}
}

func TestBreakpointSlide(t *testing.T) {
	f := newAttached(t, 1)
	f.s.SetManualSlide(0x4c3c000)
	p, err := f.s.SetBreakpoint(0x100003f00)
	if err != nil {
		t.Fatal(err)
	}
	if p.Addr != 0x100003f00 {
		t.Fatalf("registry stores %#x", p.Addr)
	}
	if got := f.p.Thread(0).Dbg.BVR[0]; got != 0x104c3ff00 {
		t.Fatalf("hardware programmed with %#x", got)
	}
}

func TestWatchpointBank(t *testing.T) {
	f := newAttached(t, 1)
	if _, err := f.s.SetWatchpoint(0x16fdff00c); err != nil {
		t.Fatal(err)
	}
	dbg := f.p.Thread(0).Dbg
	if dbg.WVR[0] != 0x16fdff008 || dbg.WCR[0] != arm64util.WatchpointControl {
		t.Fatalf("watchpoint slot %#x/%#x", dbg.WVR[0], dbg.WCR[0])
	}
	if dbg.BCR[0] != 0 {
		t.Fatal("breakpoint bank touched")
	}
	if len(f.s.Breakpoints()) != 0 || len(f.s.Watchpoints()) != 1 {
		t.Fatal("wrong registry updated")
	}
	if _, err := f.s.ClearWatchpoint(0x16fdff00c); err != nil {
		t.Fatal(err)
	}
	if f.p.Thread(0).Dbg.WCR[0] != 0 {
		t.Fatal("watchpoint not cleared")
	}
}

func TestRegistryGrowthAndLimit(t *testing.T) {
	f := newAttached(t, 1)
	if c := f.s.breakpoints.Cap(); c != 0 {
		t.Fatalf("initial capacity %d", c)
	}
	for i := 0; i < mach.NumDebugSlots; i++ {
		if _, err := f.s.SetBreakpoint(uint64(0x1000 + 4*i)); err != nil {
			t.Fatalf("breakpoint %d: %v", i, err)
		}
		switch i {
		case 0:
			if c := f.s.breakpoints.Cap(); c != minRegistryCapacity {
				t.Fatalf("capacity after first add %d", c)
			}
		case 4:
			if c := f.s.breakpoints.Cap(); c != 2*minRegistryCapacity {
				t.Fatalf("capacity after fifth add %d", c)
			}
		}
	}
	_, err := f.s.SetBreakpoint(0x9000)
	if !errors.Is(err, ErrSlotsExhausted) {
		t.Fatalf("expected ErrSlotsExhausted, got %v", err)
	}
	if n := len(f.s.Breakpoints()); n != mach.NumDebugSlots {
		t.Fatalf("registry has %d entries", n)
	}
}

func TestRegistryInvariants(t *testing.T) {
	r := newRegistry(arm64util.Breakpoint)
	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 2000; step++ {
		if rng.Intn(3) > 0 {
			r.add(uint64(rng.Intn(32)) * 4)
		} else {
			r.removeAt(rng.Intn(r.Len() + 1))
		}
		seen := make(map[uint64]bool)
		for i, p := range r.points {
			if p.Index != i {
				t.Fatalf("step %d: entry %d has index %d", step, i, p.Index)
			}
			if seen[p.Addr] {
				t.Fatalf("step %d: duplicate %#x", step, p.Addr)
			}
			seen[p.Addr] = true
		}
		if r.Len() > mach.NumDebugSlots {
			t.Fatalf("step %d: %d entries", step, r.Len())
		}
	}
}

func TestDetachClearsRegistries(t *testing.T) {
	f := newAttached(t, 1)
	f.s.SetBreakpoint(0x4000)
	f.s.SetWatchpoint(0x8000)
	if err := f.s.Detach(); err != nil {
		t.Fatal(err)
	}
	if len(f.s.Breakpoints()) != 0 || len(f.s.Watchpoints()) != 0 {
		t.Fatal("registries survive detach")
	}
}
