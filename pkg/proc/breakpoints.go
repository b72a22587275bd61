package proc

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc/arm64util"
)

const minRegistryCapacity = 4

// Point is a hardware breakpoint or watchpoint. Index is the entry's
// current position in its registry, which is also the debug register
// slot it was programmed into. Removing an entry renumbers every entry
// after it.
type Point struct {
	Index int
	Addr  uint64
}

// Registry is the ordered list of breakpoints or of watchpoints of a
// session. Addresses are the ones given by the user, before the slide.
type Registry struct {
	kind   arm64util.Kind
	points []Point
}

func newRegistry(kind arm64util.Kind) *Registry {
	return &Registry{kind: kind}
}

// Kind returns the bank this registry programs.
func (r *Registry) Kind() arm64util.Kind {
	return r.kind
}

func (r *Registry) Len() int {
	return len(r.points)
}

// Cap returns the capacity of the backing storage.
func (r *Registry) Cap() int {
	return cap(r.points)
}

// List returns a copy of the entries in index order.
func (r *Registry) List() []Point {
	return slices.Clone(r.points)
}

func (r *Registry) indexOf(addr uint64) int {
	return slices.IndexFunc(r.points, func(p Point) bool { return p.Addr == addr })
}

// add appends addr. It fails without mutation on a duplicate address or
// when every hardware slot is taken.
func (r *Registry) add(addr uint64) (Point, error) {
	if i := r.indexOf(addr); i >= 0 {
		return Point{}, PointExistsError{Kind: r.kind, Addr: addr, Index: i}
	}
	if len(r.points) >= mach.NumDebugSlots {
		return Point{}, ErrSlotsExhausted
	}
	if len(r.points) == cap(r.points) {
		newcap := 2 * cap(r.points)
		if newcap < minRegistryCapacity {
			newcap = minRegistryCapacity
		}
		grown := make([]Point, len(r.points), newcap)
		copy(grown, r.points)
		r.points = grown
	}
	p := Point{Index: len(r.points), Addr: addr}
	r.points = append(r.points, p)
	return p, nil
}

// removeAt deletes entry i and shifts the following entries down,
// renumbering them to their new position.
func (r *Registry) removeAt(i int) (Point, error) {
	if i < 0 || i >= len(r.points) {
		return Point{}, NoPointError{Kind: r.kind, Index: i, ByIdx: true}
	}
	p := r.points[i]
	r.points = slices.Delete(r.points, i, i+1)
	for j := i; j < len(r.points); j++ {
		r.points[j].Index = j
	}
	return p, nil
}

func (r *Registry) reset() {
	r.points = nil
}

// Breakpoints returns the breakpoint registry.
func (s *Session) Breakpoints() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints.List()
}

// Watchpoints returns the watchpoint registry.
func (s *Session) Watchpoints() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchpoints.List()
}

// SetBreakpoint adds a hardware breakpoint at addr, slid if the slide is
// enabled, on every thread.
func (s *Session) SetBreakpoint(addr uint64) (Point, error) {
	return s.addPoint(s.breakpoints, addr)
}

// SetWatchpoint adds a hardware watchpoint at addr, slid if the slide is
// enabled, on every thread.
func (s *Session) SetWatchpoint(addr uint64) (Point, error) {
	return s.addPoint(s.watchpoints, addr)
}

// ClearBreakpoint removes the breakpoint at addr.
func (s *Session) ClearBreakpoint(addr uint64) (Point, error) {
	return s.removePointByAddr(s.breakpoints, addr)
}

// ClearWatchpoint removes the watchpoint at addr.
func (s *Session) ClearWatchpoint(addr uint64) (Point, error) {
	return s.removePointByAddr(s.watchpoints, addr)
}

// ClearBreakpointAt removes breakpoint i.
func (s *Session) ClearBreakpointAt(i int) (Point, error) {
	return s.removePointAt(s.breakpoints, i)
}

// ClearWatchpointAt removes watchpoint i.
func (s *Session) ClearWatchpointAt(i int) (Point, error) {
	return s.removePointAt(s.watchpoints, i)
}

func (s *Session) addPoint(r *Registry, addr uint64) (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return Point{}, err
	}
	p, err := r.add(addr)
	if err != nil {
		return Point{}, err
	}
	target := s.slid(addr)
	err = s.forEachThread(fmt.Sprintf("set %s %d", r.kind, p.Index), func(th mach.Thread) error {
		st, err := s.getDebugState(th)
		if err != nil {
			return err
		}
		drs := arm64util.NewDebugRegisters(st)
		if err := drs.SetBreakpoint(r.kind, p.Index, target); err != nil {
			return err
		}
		if !drs.Dirty {
			return nil
		}
		return s.setState(th, st)
	})
	if err != nil {
		r.removeAt(p.Index)
		return Point{}, fmt.Errorf("%w: %w", ErrHardwareProgram, err)
	}
	s.log.Debugf("%s %d set at %#x (kernel address %#x)", r.kind, p.Index, addr, target)
	return p, nil
}

func (s *Session) removePointByAddr(r *Registry, addr uint64) (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return Point{}, err
	}
	i := r.indexOf(addr)
	if i < 0 {
		return Point{}, NoPointError{Kind: r.kind, Addr: addr}
	}
	return s.removePoint(r, i)
}

func (s *Session) removePointAt(r *Registry, i int) (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return Point{}, err
	}
	return s.removePoint(r, i)
}

// removePoint deletes entry i and clears slot i on every thread. The
// entries shifted down keep their hardware slot: they are not
// reprogrammed into the slot matching their new index.
func (s *Session) removePoint(r *Registry, i int) (Point, error) {
	p, err := r.removeAt(i)
	if err != nil {
		return Point{}, err
	}
	err = s.forEachThread(fmt.Sprintf("clear %s %d", r.kind, i), func(th mach.Thread) error {
		st, err := s.getDebugState(th)
		if err != nil {
			return err
		}
		drs := arm64util.NewDebugRegisters(st)
		if err := drs.ClearBreakpoint(r.kind, i); err != nil {
			return err
		}
		if !drs.Dirty {
			return nil
		}
		return s.setState(th, st)
	})
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrHardwareProgram, err)
	}
	return p, nil
}
