package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// defaultLoadAddress is where the linker places the main executable of a
// 64 bit process, the base the slide is measured from.
const defaultLoadAddress = 0x100000000

// Layout of the head of struct dyld_all_image_infos and of
// struct dyld_image_info.
const (
	allImageInfosHeadSize = 16 // version u32, infoArrayCount u32, infoArray u64
	imageInfoSize         = 24 // imageLoadAddress, imageFilePath, imageFileModDate
)

var errNoImages = errors.New("dyld image list is empty")

// ResolveSlide computes the slide of the main executable from the
// loader's image list in the target's memory.
func (s *Session) ResolveSlide() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttached(); err != nil {
		return 0, err
	}
	return s.resolveSlide()
}

func (s *Session) resolveSlide() (uint64, error) {
	info, err := s.kernel.DyldInfo(s.task)
	if err != nil {
		return 0, kernelErr("task_info(TASK_DYLD_INFO)", ErrSlideUnresolvable, err)
	}
	if info.AllImageInfoAddr == 0 {
		return 0, fmt.Errorf("%w: no dyld_all_image_infos", ErrSlideUnresolvable)
	}
	head, err := s.readMemory(info.AllImageInfoAddr, allImageInfosHeadSize)
	if err != nil {
		return 0, fmt.Errorf("%w: dyld_all_image_infos: %w", ErrSlideUnresolvable, err)
	}
	count := binary.LittleEndian.Uint32(head[4:])
	array := binary.LittleEndian.Uint64(head[8:])
	if count == 0 || array == 0 {
		return 0, fmt.Errorf("%w: %w", ErrSlideUnresolvable, errNoImages)
	}
	image, err := s.readMemory(array, imageInfoSize)
	if err != nil {
		return 0, fmt.Errorf("%w: dyld_image_info: %w", ErrSlideUnresolvable, err)
	}
	load := binary.LittleEndian.Uint64(image[0:])
	s.log.Debugf("main image loaded at %#x (%d images)", load, count)
	return load - defaultLoadAddress, nil
}

// SetAutoSlide enables the slide with a freshly resolved value, or
// disables and zeroes it. A failed resolution leaves the slide unchanged.
func (s *Session) SetAutoSlide(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled {
		s.slide, s.slideEnabled = 0, false
		return nil
	}
	if err := s.checkAttached(); err != nil {
		return err
	}
	slide, err := s.resolveSlide()
	if err != nil {
		return err
	}
	s.slide, s.slideEnabled = slide, true
	return nil
}

// SetManualSlide enables the slide with value without resolving it.
func (s *Session) SetManualSlide(value uint64) {
	s.mu.Lock()
	s.slide, s.slideEnabled = value, true
	s.mu.Unlock()
}

// Slide returns the slide and whether it is applied to addresses.
func (s *Session) Slide() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slide, s.slideEnabled
}

func (s *Session) slid(addr uint64) uint64 {
	if s.slideEnabled {
		return addr + s.slide
	}
	return addr
}
