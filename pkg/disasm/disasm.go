// Package disasm decodes ARM64 machine code read from the target.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/arm64/arm64asm"
)

// InstructionSize is the size of every A64 instruction.
const InstructionSize = 4

const defaultCacheSize = 1024

// Line is one decoded instruction.
type Line struct {
	Addr     uint64
	Word     uint32
	Mnemonic string
	Operands string
	// Invalid is set for words that do not decode to an instruction.
	Invalid bool
}

func (l Line) String() string {
	if l.Operands == "" {
		return fmt.Sprintf("%#x:\t%s", l.Addr, l.Mnemonic)
	}
	return fmt.Sprintf("%#x:\t%s\t\t%s", l.Addr, l.Mnemonic, l.Operands)
}

// Disassembler decodes instruction words, caching the text of words it
// has already seen. Only position independent instructions are cached:
// PC relative operands depend on the address.
type Disassembler struct {
	cache *lru.Cache
}

// New returns a Disassembler caching up to size decoded words, or a
// default number of words if size is not positive.
func New(size int) (*Disassembler, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Disassembler{cache: c}, nil
}

type cached struct {
	mnemonic, operands string
	invalid            bool
}

// Decode disassembles code, which was read at addr. Trailing bytes that
// do not form a whole instruction are ignored.
func (d *Disassembler) Decode(addr uint64, code []byte) []Line {
	lines := make([]Line, 0, len(code)/InstructionSize)
	for off := 0; off+InstructionSize <= len(code); off += InstructionSize {
		pc := addr + uint64(off)
		word := binary.LittleEndian.Uint32(code[off:])
		lines = append(lines, d.decodeWord(pc, word))
	}
	return lines
}

func (d *Disassembler) decodeWord(pc uint64, word uint32) Line {
	l := Line{Addr: pc, Word: word}
	if v, ok := d.cache.Get(word); ok {
		c := v.(cached)
		l.Mnemonic, l.Operands, l.Invalid = c.mnemonic, c.operands, c.invalid
		return l
	}
	var buf [InstructionSize]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	inst, err := arm64asm.Decode(buf[:])
	if err != nil {
		l.Mnemonic, l.Operands, l.Invalid = ".inst", fmt.Sprintf("%#08x", word), true
		d.cache.Add(word, cached{l.Mnemonic, l.Operands, true})
		return l
	}
	l.Mnemonic, l.Operands = split(arm64asm.GNUSyntax(inst))
	if pcrel(inst) {
		l.Operands = resolvePCRel(inst, pc, l.Operands)
		return l
	}
	d.cache.Add(word, cached{l.Mnemonic, l.Operands, false})
	return l
}

// Len returns the number of cached words.
func (d *Disassembler) Len() int {
	return d.cache.Len()
}

func split(text string) (mnemonic, operands string) {
	if i := strings.IndexByte(text, ' '); i >= 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}

func pcrel(inst arm64asm.Inst) bool {
	for _, a := range inst.Args {
		if _, ok := a.(arm64asm.PCRel); ok {
			return true
		}
	}
	return false
}

// resolvePCRel replaces the last PC relative operand, printed as a
// displacement, with its target address.
func resolvePCRel(inst arm64asm.Inst, pc uint64, operands string) string {
	for _, a := range inst.Args {
		rel, ok := a.(arm64asm.PCRel)
		if !ok {
			continue
		}
		base := pc
		if inst.Op == arm64asm.ADRP {
			base &^= 0xfff
		}
		target := fmt.Sprintf("%#x", base+uint64(rel))
		ops := strings.Split(operands, ", ")
		ops[len(ops)-1] = target
		return strings.Join(ops, ", ")
	}
	return operands
}
