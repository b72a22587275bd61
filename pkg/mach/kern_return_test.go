package mach

import (
	"errors"
	"fmt"
	"testing"
)

func TestKernReturnError(t *testing.T) {
	tests := []struct {
		kr   KernReturn
		want string
	}{
		{KernProtectionFailure, "KERN_PROTECTION_FAILURE (0x2)"},
		{RcvPortDied, "MACH_RCV_PORT_DIED (0x10004009)"},
		{MigBadID, "MIG_BAD_ID (0xfffffed1)"},
		{KernReturn(0x77), "kern_return 0x77"},
	}
	for _, tc := range tests {
		if got := tc.kr.Error(); got != tc.want {
			t.Errorf("%d: got %q want %q", int32(tc.kr), got, tc.want)
		}
	}
	if KernSuccess.Err() != nil {
		t.Fatal("KERN_SUCCESS should not be an error")
	}
	var kr KernReturn
	if !errors.As(fmt.Errorf("wrapped: %w", KernFailure), &kr) || kr != KernFailure {
		t.Fatal("KernReturn not recoverable through errors.As")
	}
}

func TestPortGone(t *testing.T) {
	for _, kr := range []KernReturn{RcvInvalidName, RcvPortChanged, RcvPortDied} {
		if !kr.PortGone() {
			t.Errorf("%v should stop the receiver", kr)
		}
	}
	if RcvInterrupted.PortGone() || KernFailure.PortGone() {
		t.Error("transient errors reported as port destruction")
	}
}

func TestExceptionNamesAndMasks(t *testing.T) {
	if ExcBreakpoint.String() != "EXC_BREAKPOINT" || ExcBadAccess.String() != "EXC_BAD_ACCESS" {
		t.Fatal("wrong exception names")
	}
	if ExcBreakpoint.Mask() != 1<<6 {
		t.Fatalf("EXC_MASK_BREAKPOINT = %#x", ExcBreakpoint.Mask())
	}
	m := ExcBadAccess.Mask() | ExcSyscall.Mask()
	if !m.Has(ExcSyscall) || m.Has(ExcSoftware) {
		t.Fatal("Has is wrong")
	}
}

func TestReply(t *testing.T) {
	msg := &ExceptionMessage{ID: MsgIDRaiseState, ReplyPort: 0x1203, ReplyBits: 18}
	rep := msg.Reply(KernFailure)
	if rep.ID != 2506 || rep.Port != 0x1203 || rep.ReplyBits != 18 || rep.RetCode != KernFailure {
		t.Fatalf("bad reply %#v", rep)
	}
}

func TestThreadListRelease(t *testing.T) {
	n := 0
	tl := NewThreadList([]Thread{1, 2}, func() error { n++; return nil })
	tl.Release()
	tl.Release()
	if n != 1 {
		t.Fatalf("release called %d times", n)
	}
}
