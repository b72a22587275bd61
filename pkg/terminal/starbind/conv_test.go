package starbind

import (
	"testing"

	"go.starlark.net/starlark"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll unmarshal into a slice.
x = [1,2]
addr = 0x100003f00
data = "\x01\x02"
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	var x []int
	err = unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}

	var addr uint64
	if err := unmarshalStarlarkValue(globals["addr"], &addr, "addr"); err != nil {
		t.Fatal(err)
	}
	if addr != 0x100003f00 {
		t.Fatalf("expected 0x100003f00, got %#x", addr)
	}

	var data []byte
	if err := unmarshalStarlarkValue(globals["data"], &data, "data"); err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 || data[0] != 1 || data[1] != 2 {
		t.Fatalf("expected [1 2], got %v", data)
	}

	var small uint32
	if err := unmarshalStarlarkValue(globals["addr"], &small, "small"); err == nil {
		t.Fatalf("expected overflow error, got %#x", small)
	}
}
