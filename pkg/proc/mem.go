package proc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/phantom-dbg/phantom/pkg/mach"
)

func alignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

func alignUp[T constraints.Unsigned](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// writableProt is what a page is switched to for the duration of a write.
// VM_PROT_COPY makes the kernel create a private copy of shared pages,
// such as the text of a binary mapped from the shared cache.
const writableProt = mach.ProtRead | mach.ProtWrite | mach.ProtCopy

// ReadMemory reads size bytes at addr, slid if the slide is enabled.
func (s *Session) ReadMemory(addr uint64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	return s.readMemory(s.slid(addr), size)
}

// ReadRaw reads size bytes at addr without applying the slide.
func (s *Session) ReadRaw(addr uint64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	return s.readMemory(addr, size)
}

func (s *Session) readMemory(addr uint64, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	buf := make([]byte, size)
	n, err := s.kernel.ReadMemory(s.task, addr, buf)
	if err != nil {
		return nil, kernelErr("mach_vm_read_overwrite", ErrShortRead, err)
	}
	if n < size {
		return nil, ShortReadError{Addr: addr, Want: size, Got: n}
	}
	return buf, nil
}

// WriteMemory writes data at addr, slid if the slide is enabled. Every
// region of the written page range that is not writable is made writable
// for the duration of the write and then given back its own protection.
func (s *Session) WriteMemory(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return err
	}
	return s.writeMemory(s.slid(addr), data)
}

// protSpan is a page aligned range and the protection it had before a
// write relaxed it.
type protSpan struct {
	start, size uint64
	prot        mach.VMProt
}

// protSpans returns the protection of every region overlapping the page
// range [start, end). Holes are reported as KERN_INVALID_ADDRESS.
func (s *Session) protSpans(start, end uint64) ([]protSpan, error) {
	var spans []protSpan
	for a := start; a < end; {
		r, err := s.kernel.Region(s.task, a)
		if err != nil {
			return nil, err
		}
		if r.Start > a || r.Start+r.Size <= a {
			return nil, mach.KernInvalidAddress
		}
		next := min(r.Start+r.Size, end)
		spans = append(spans, protSpan{start: a, size: next - a, prot: r.Protection})
		a = next
	}
	return spans, nil
}

func (s *Session) writeMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ps := s.kernel.PageSize()
	spans, err := s.protSpans(alignDown(addr, ps), alignUp(addr+uint64(len(data)), ps))
	if err != nil {
		return kernelErr("mach_vm_region", ErrWriteFailure, err)
	}

	var relaxed []protSpan
	defer func() {
		for _, sp := range relaxed {
			if err := s.kernel.Protect(s.task, sp.start, sp.size, sp.prot); err != nil {
				s.memlog.Errorf("%v", kernelErr("mach_vm_protect", ErrProtectionRestore, err))
				continue
			}
			s.memlog.Debugf("region %#x-%#x: restored %v", sp.start, sp.start+sp.size, sp.prot)
		}
	}()
	for _, sp := range spans {
		if sp.prot&mach.ProtWrite != 0 {
			continue
		}
		s.memlog.Debugf("region %#x-%#x: %v -> %v", sp.start, sp.start+sp.size, sp.prot, writableProt)
		if err := s.kernel.Protect(s.task, sp.start, sp.size, writableProt); err != nil {
			return kernelErr("mach_vm_protect", ErrWriteFailure, err)
		}
		relaxed = append(relaxed, sp)
	}
	return kernelErr("mach_vm_write", ErrWriteFailure, s.kernel.WriteMemory(s.task, addr, data))
}

// Read64 reads a little endian uint64 at addr.
func (s *Session) Read64(addr uint64) (uint64, error) {
	buf, err := s.ReadMemory(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Read32 reads a little endian uint32 at addr.
func (s *Session) Read32(addr uint64) (uint32, error) {
	buf, err := s.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Write64 writes v at addr and returns the bytes read back afterwards.
func (s *Session) Write64(addr, v uint64) ([]byte, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return s.writeAndVerify(addr, buf[:])
}

// Write32 writes v at addr and returns the bytes read back afterwards.
func (s *Session) Write32(addr uint64, v uint32) ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.writeAndVerify(addr, buf[:])
}

func (s *Session) writeAndVerify(addr uint64, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return nil, err
	}
	target := s.slid(addr)
	if err := s.writeMemory(target, data); err != nil {
		return nil, err
	}
	return s.readMemory(target, len(data))
}
