package disasm

import (
	"encoding/binary"
	"testing"
)

func words(ws ...uint32) []byte {
	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestDecode(t *testing.T) {
	d, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	code := append(words(0xd503201f, 0x94000004, 0xd65f03c0), 0xaa, 0xbb)
	lines := d.Decode(0x100003f00, code)
	if len(lines) != 3 {
		t.Fatalf("decoded %d lines: %v", len(lines), lines)
	}
	for i, tc := range []struct {
		addr     uint64
		mnemonic string
		operands string
	}{
		{0x100003f00, "nop", ""},
		{0x100003f04, "bl", "0x100003f14"},
		{0x100003f08, "ret", ""},
	} {
		l := lines[i]
		if l.Addr != tc.addr || l.Mnemonic != tc.mnemonic || l.Operands != tc.operands || l.Invalid {
			t.Errorf("line %d: got %#v, want %#x %s %s", i, l, tc.addr, tc.mnemonic, tc.operands)
		}
	}
	if s := lines[1].String(); s != "0x100003f04:\tbl\t\t0x100003f14" {
		t.Errorf("formatted %q", s)
	}
	if s := lines[0].String(); s != "0x100003f00:\tnop" {
		t.Errorf("formatted %q", s)
	}
}

func TestDecodeCache(t *testing.T) {
	d, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	d.Decode(0x1000, words(0xd503201f, 0xd503201f, 0xd65f03c0))
	if n := d.Len(); n != 2 {
		t.Fatalf("cache holds %d words", n)
	}

	// PC relative words are never cached: the same word branches to a
	// different address depending on where it is.
	d.Decode(0x1000, words(0x94000004))
	lines := d.Decode(0x2000, words(0x94000004))
	if lines[0].Operands != "0x2010" {
		t.Fatalf("stale branch target %s", lines[0].Operands)
	}
	if n := d.Len(); n != 2 {
		t.Fatalf("cache holds %d words", n)
	}
}
