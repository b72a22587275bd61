package terminal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phantom-dbg/phantom/pkg/config"
	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/mach/machtest"
	"github.com/phantom-dbg/phantom/pkg/proc"
)

const (
	testPid   = 4242
	testName  = "target"
	textBase  = 0x100000000
	stackPage = 0x16fdfc000
)

type FakeTerminal struct {
	*Term
	t testing.TB
	k *machtest.Kernel
	p *machtest.Process
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout
	ft.Term.stdout = &buf
	defer func() {
		ft.Term.stdout = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", cmdstr, outstr)
		}
	}()
	err = ft.cmds.Call(cmdstr, ft.Term)
	return
}

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout
	ft.Term.stdout = &buf
	defer func() {
		ft.Term.stdout = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", starlarkProgram, outstr)
		}
	}()
	err = ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram)
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	outstr, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Errorf("output of %q: %q", starlarkProgram, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", starlarkProgram, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// withTestTerminal runs fn with a terminal driving a simulated kernel
// that holds one process, testPid, named testName.
func withTestTerminal(t testing.TB, nthreads int, fn func(*FakeTerminal)) {
	k := machtest.NewKernel()
	p := k.AddProcess(testPid, nthreads)
	p.SetHandler(proc.DefaultExceptionMask, 0x7707, mach.BehaviorDefault|mach.MachExceptionCodes, mach.ThreadStateNone)
	p.Map(textBase, machtest.DefaultPageSize, mach.ProtRead|mach.ProtExecute)
	p.Map(stackPage, machtest.DefaultPageSize, mach.ProtRead|mach.ProtWrite)

	term := New(k, &config.Config{})
	term.dumb = true
	term.selfName = "phantom"
	term.lookup = func(name string) (int, error) {
		if name == testName {
			return testPid, nil
		}
		return 0, mach.ErrNoSuchProcess
	}
	ft := &FakeTerminal{Term: term, t: t, k: k, p: p}
	defer func() {
		if term.sess.State() == proc.Attached {
			term.sess.Detach()
		}
	}()
	fn(ft)
}

func withAttachedTerminal(t testing.TB, fn func(*FakeTerminal)) {
	withTestTerminal(t, 2, func(term *FakeTerminal) {
		term.MustExec("attach " + strconv.Itoa(testPid))
		fn(term)
	})
}

func TestCommandDefault(t *testing.T) {
	cmds := DebugCommands()
	_, err := cmds.Find("foo")
	if err != noCmdError {
		t.Fatalf("Find(foo): %v", err)
	}
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		term.AssertExecError("foo", "command not available")
	})
}

func TestCommandPrefix(t *testing.T) {
	cmds := DebugCommands()
	for _, tc := range []struct {
		in, want string
	}{
		{"det", "detach"},
		{"detach", "detach"},
		{"b", "breakpoint"},
		{"bp", "breakpoint"},
		{"wat", "watchpoint"},
		{"sl", "slide"},
		{"read", "read"},
		{"read6", "read64"},
		{"registerd", "registerd"},
		{"q", "quit"},
		{"c", "continue"},
		{"auto", "autoslide"},
	} {
		cmd, err := cmds.Find(tc.in)
		if err != nil {
			t.Errorf("Find(%q): %v", tc.in, err)
			continue
		}
		if cmd.aliases[0] != tc.want {
			t.Errorf("Find(%q) = %s, want %s", tc.in, cmd.aliases[0], tc.want)
		}
	}
}

func TestCommandAmbiguous(t *testing.T) {
	cmds := DebugCommands()
	_, err := cmds.Find("re")
	var amb AmbiguousCommandError
	if !errors.As(err, &amb) {
		t.Fatalf("Find(re): %v", err)
	}
	want := []string{"read", "read32", "read64", "register", "registerd", "registerx"}
	if !reflect.DeepEqual(amb.Candidates, want) {
		t.Fatalf("candidates %v, want %v", amb.Candidates, want)
	}
	if s := err.Error(); s != `ambiguous command "re": could be read, read32, read64, register, registerd, registerx` {
		t.Fatalf("error %q", s)
	}
}

func TestCommandMerge(t *testing.T) {
	cmds := DebugCommands()
	cmds.Merge(map[string][]string{"breakpoint": {"brk"}})
	cmd, err := cmds.Find("brk")
	if err != nil || cmd.aliases[0] != "breakpoint" {
		t.Fatalf("Find(brk) after merge: %v %v", cmd, err)
	}
	cmds.Merge(map[string][]string{})
	if _, err := cmds.Find("brk"); err != noCmdError {
		t.Fatalf("Find(brk) after removing the alias: %v", err)
	}
	if _, err := cmds.Find("bp"); err != nil {
		t.Fatalf("builtin alias lost: %v", err)
	}
}

func TestCompletion(t *testing.T) {
	cmds := DebugCommands()
	if got, want := cmds.complete("wri"), []string{"write", "write32", "write64"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("complete(wri) = %v, want %v", got, want)
	}
	if got := cmds.complete("read 0x"); got != nil {
		t.Fatalf("completed arguments: %v", got)
	}
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{
			"Hardware breakpoints and watchpoints:",
			"breakpoint (alias: bp) ",
			"quit (alias: exit | q) ",
			"Type help followed by a command for full documentation.",
		} {
			if !strings.Contains(out, s) {
				t.Errorf("help output does not contain %q:\n%s", s, out)
			}
		}
		out = term.MustExec("help autoslide")
		if !strings.HasPrefix(out, "Enable or disable the automatic ASLR slide.") {
			t.Errorf("help autoslide: %q", out)
		}
	})
}

func TestSplitArgs(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"read 0x10 4", []string{"read", "0x10", "4"}},
		{`attach "my app"`, []string{"attach", "my app"}},
	} {
		got, err := splitArgs(tc.in)
		if err != nil {
			t.Errorf("splitArgs(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitArgs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := splitArgs("read `x`"); err == nil {
		t.Errorf("backtick accepted")
	}
}

func TestAttachByPidAndName(t *testing.T) {
	withTestTerminal(t, 2, func(term *FakeTerminal) {
		term.AssertExec("attach "+testName, fmt.Sprintf("attached to %s (pid %d)\n", testName, testPid))
		if p := term.prompt(); p != "(phantom) "+testName+" > " {
			t.Fatalf("prompt %q", p)
		}
		if term.p.SuspendCount() != 1 {
			t.Fatalf("task not suspended after attach")
		}
		term.AssertExec("detach", fmt.Sprintf("detached from %d\n", testPid))
		if p := term.prompt(); p != "(phantom) > " {
			t.Fatalf("prompt after detach %q", p)
		}

		term.AssertExec("attach 4242", "attached to 4242 (pid 4242)\n")
		_, err := term.Exec("attach 4242")
		if !errors.Is(err, proc.ErrAlreadyAttached) {
			t.Fatalf("second attach: %v", err)
		}
	})
}

func TestAttachErrors(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		for _, tc := range []struct {
			cmd  string
			want error
		}{
			{"attach " + strconv.Itoa(os.Getpid()), proc.ErrSelfAttach},
			{"attach phantom", proc.ErrSelfAttach},
			{"attach nosuchapp", mach.ErrNoSuchProcess},
		} {
			_, err := term.Exec(tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Errorf("%s: got %v, want %v", tc.cmd, err, tc.want)
			}
		}
		if term.sess.State() != proc.Detached {
			t.Fatalf("session state %v", term.sess.State())
		}
		if _, err := term.Exec("attach"); err == nil {
			t.Fatalf("attach without arguments accepted")
		}
	})
}

func TestNotAttachedCommands(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		for _, cmd := range []string{"continue", "suspend", "detach", "register read", "breakpoint list", "read64 0x1000", "slide"} {
			if _, err := term.Exec(cmd); !errors.Is(err, proc.ErrNotAttached) {
				t.Errorf("%s: %v", cmd, err)
			}
		}
	})
}

func TestBreakpointCommands(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("breakpoint list", "0 breakpoints set\n")
		term.AssertExec("breakpoint set 0x100003f00", "breakpoint 0 set at 0x0000000100003f00\n")
		term.AssertExec("bp set 0x100003f10", "breakpoint 1 set at 0x0000000100003f10\n")
		term.AssertExec("bp list", "[i] currently 2 breakpoints:\n  [ 0] @ 0x0000000100003f00\n  [ 1] @ 0x0000000100003f10\n")

		_, err := term.Exec("bp set 0x100003f10")
		if !errors.Is(err, proc.ErrDuplicate) {
			t.Fatalf("duplicate breakpoint: %v", err)
		}

		term.AssertExec("bp delete 0", "breakpoint 0 at 0x0000000100003f00 deleted\n")
		term.AssertExec("bp list", "[i] currently 1 breakpoints:\n  [ 0] @ 0x0000000100003f10\n")
		term.AssertExecError("bp delete 7", "no breakpoint with index 7")
		term.AssertExecError("bp delete 0x100003f00", "no breakpoint at 0x100003f00")
		term.AssertExec("bp delete 0x100003f10", "breakpoint 0 at 0x0000000100003f10 deleted\n")
		term.AssertExec("bp list", "0 breakpoints set\n")

		if _, err := term.Exec("bp frob"); err == nil {
			t.Fatalf("unknown subcommand accepted")
		}
	})
}

func TestWatchpointCommands(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("watchpoint set 0x16fdff00c", "watchpoint 0 set at 0x000000016fdff00c\n")
		term.AssertExec("wp list", "[i] currently 1 watchpoints:\n  [ 0] @ 0x000000016fdff00c\n")
		out := term.MustExec("registerd")
		if !strings.Contains(out, "WVR[0]=0x000000016fdff008 ") {
			t.Fatalf("watchpoint not programmed:\n%s", out)
		}
		if strings.Count(out, "DEBUG REGISTERS ===") != 2 {
			t.Fatalf("expected one bank per thread:\n%s", out)
		}
		term.AssertExec("breakpoint list", "0 breakpoints set\n")
	})
}

func TestHexdump(t *testing.T) {
	pad := func(n int) string { return strings.Repeat(" ", n) }
	for _, tc := range []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"short", []byte("ABC"), "41 42 43   " + pad(39) + "|  ABC \n"},
		{"row", []byte("0123456789abcdef"), "30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |  0123456789abcdef \n"},
		{"unprintable", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, "00 01 02 03 04 05 06 07  08 09  " + pad(18) + "|  .......... \n"},
		{"two rows", []byte("0123456789abcdefgh"),
			"30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |  0123456789abcdef \n" +
				"67 68   " + pad(42) + "|  gh \n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			hexdump(&buf, tc.in)
			if got := buf.String(); got != tc.want {
				t.Fatalf("got\n%q\nwant\n%q", got, tc.want)
			}
		})
	}
}

func TestMinimalBytes(t *testing.T) {
	for _, tc := range []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0}},
		{0xff, []byte{0xff}},
		{0x100, []byte{0x00, 0x01}},
		{0x4142, []byte{0x42, 0x41}},
		{0x1122334455667788, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
	} {
		if got := minimalBytes(tc.v); !bytes.Equal(got, tc.want) {
			t.Errorf("minimalBytes(%#x) = %x, want %x", tc.v, got, tc.want)
		}
	}
}

func TestMemoryCommands(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		addr := uint64(stackPage + 0x3000)
		term.AssertExec(fmt.Sprintf("write %#x 0x4142", addr), "42 41  "+strings.Repeat(" ", 43)+"|  BA \n")
		if got := term.p.Peek(addr, 3); !bytes.Equal(got, []byte{0x42, 0x41, 0}) {
			t.Fatalf("memory %x", got)
		}

		term.AssertExec(fmt.Sprintf("write64 %#x 0x4847464544434241", addr), "41 42 43 44 45 46 47 48  "+strings.Repeat(" ", 25)+"|  ABCDEFGH \n")
		term.AssertExec(fmt.Sprintf("read32 %#x", addr+4), "45 46 47 48  "+strings.Repeat(" ", 37)+"|  EFGH \n")
		term.AssertExec(fmt.Sprintf("read -r %#x 2", addr), "41 42  "+strings.Repeat(" ", 43)+"|  AB \n")

		term.AssertExecError(fmt.Sprintf("write32 %#x 0x100000000", addr), "value 0x100000000 does not fit in 32 bits")
		term.AssertExecError(fmt.Sprintf("read %#x 0", addr), "size must be between 1 and 4096")
		term.AssertExecError(fmt.Sprintf("read %#x 5000", addr), "size must be between 1 and 4096")
		term.AssertExecError("read zz 4", `invalid number "zz"`)
	})
}

func TestSlideCommands(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("slide 0x4000", "aslr slide set to 0x4000\n")
		term.AssertExec("slide", "aslr slide: 0x4000\n")

		// The slide is added to the address given to write64 and read but
		// not to the one given to read -r.
		term.MustExec(fmt.Sprintf("write64 %#x 0x1122334455667788", stackPage+0x100-0x4000))
		term.AssertExec(fmt.Sprintf("read -r %#x 1", stackPage+0x100), "88  "+strings.Repeat(" ", 46)+"|  . \n")
		term.AssertExec(fmt.Sprintf("read %#x 1", stackPage+0x101-0x4000), "77  "+strings.Repeat(" ", 46)+"|  w \n")

		term.AssertExec("autoslide off", "aslr slide enabled: false\n")
		if v, on := term.sess.Slide(); on || v != 0 {
			t.Fatalf("slide after autoslide off: %#x %v", v, on)
		}
	})
}

func TestRegisterCommands(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		regs := mach.ThreadState64{PC: textBase + 4, SP: stackPage + 0x3ff0, LR: textBase + 0x20}
		regs.X[0], regs.X[1] = 1, 2
		term.p.SetRegisters(0, regs)

		out := term.MustExec("register read")
		for _, s := range []string{
			"\nRegister dump (ARM64):\n\n",
			" X0 : 0x0000000000000001     X1 : 0x0000000000000002\n",
			" FP: 0x0000000000000000 LR: 0x0000000100000020\n",
			" SP: 0x000000016fdffff0 PC: 0x0000000100000004\n",
			" CPSR: 0x0000000000000000\n\n",
		} {
			if !strings.Contains(out, s) {
				t.Errorf("register dump does not contain %q:\n%s", s, out)
			}
		}

		term.AssertExec("register write x1 0x10", "Register x1 set to 0x0000000000000010\n")
		if got := term.p.Thread(0).GPR.X[1]; got != 0x10 {
			t.Fatalf("X1 = %#x", got)
		}
		if _, err := term.Exec("register write x99 1"); !errors.Is(err, proc.ErrInvalidRegister) {
			t.Fatalf("invalid register: %v", err)
		}
		if _, err := term.Exec("register frob"); err == nil {
			t.Fatalf("unknown subcommand accepted")
		}

		term.p.SetExceptionState(0, mach.ExceptionState64{FAR: 0x16fdff010, ESR: 0x92000046, Exception: 0x1})
		out = term.MustExec("registerx")
		for _, s := range []string{"far: 0x000000016fdff010\n", "esr: 0x92000046\n", "exception: 0x00000001\n"} {
			if !strings.Contains(out, s) {
				t.Errorf("exception registers do not contain %q:\n%s", s, out)
			}
		}
	})
}

func TestStepAndContinue(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("step", "")
		if out := term.MustExec("registerd"); !strings.Contains(out, "mdscr_el1: 0x0000000000000001\n") {
			t.Fatalf("single step bit not set:\n%s", out)
		}
		if n := term.p.SuspendCount(); n != 0 {
			t.Fatalf("step left the task suspended (%d)", n)
		}

		// The step trap stops the task again before continue resumes it.
		term.stdout = &lockedBuffer{}
		ch, err := term.k.Raise(term.p, 0, mach.ExcBreakpoint, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("step trap not answered")
		}
		if n := term.p.SuspendCount(); n != 1 {
			t.Fatalf("task not suspended by the step trap (%d)", n)
		}

		term.AssertExec("continue", "task resumed\n")
		if out := term.MustExec("registerd"); strings.Contains(out, "mdscr_el1: 0x0000000000000001\n") {
			t.Fatalf("single step bit still set after continue:\n%s", out)
		}
		term.AssertExec("suspend", "task suspended\n")
	})
}

func TestDisassemble(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		// nop; bl +16; ret
		term.p.Poke(textBase, []byte{0x1f, 0x20, 0x03, 0xd5, 0x04, 0x00, 0x00, 0x94, 0xc0, 0x03, 0x5f, 0xd6})
		term.p.SetRegisters(0, mach.ThreadState64{PC: textBase + 4})
		term.MustExec("breakpoint set 0x100000008")

		term.AssertExec("disassemble -a 0x100000002 12",
			"    0x100000000:\tnop\n"+
				"=>  0x100000004:\tbl\t\t0x100000014\n"+
				"  * 0x100000008:\tret\n")

		out := term.MustExec("disassemble")
		if !strings.HasPrefix(out, "=>  0x100000004:\tbl\t\t0x100000014\n") {
			t.Fatalf("disassemble from pc:\n%s", out)
		}
		if n := strings.Count(out, "\n"); n != 8 {
			t.Fatalf("expected 8 instructions, got %d:\n%s", n, out)
		}
		if _, err := term.Exec("disassemble 0"); err == nil {
			t.Fatalf("zero length accepted")
		}
	})
}

func TestExecuteFile(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "init")
		script := "# comment\n\nbogus\nbreakpoint list\nquit 3\nbreakpoint list\n"
		if err := os.WriteFile(path, []byte(script), 0600); err != nil {
			t.Fatal(err)
		}
		out, err := term.Exec("source " + path)
		var exit ExitRequestError
		if !errors.As(err, &exit) || exit.Status != 3 {
			t.Fatalf("source: %v", err)
		}
		if want := path + ":3: command not available\n0 breakpoints set\n"; out != want {
			t.Fatalf("output %q, want %q", out, want)
		}
		if _, err := term.Exec("source " + path + ".missing"); err == nil {
			t.Fatalf("missing file accepted")
		}
	})
}

func TestExitCommand(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		for _, tc := range []struct {
			cmd    string
			status int
		}{
			{"quit", 0},
			{"exit 2", 2},
			{"q 1", 1},
		} {
			_, err := term.Exec(tc.cmd)
			var exit ExitRequestError
			if !errors.As(err, &exit) || exit.Status != tc.status {
				t.Errorf("%s: %v", tc.cmd, err)
			}
		}
		term.AssertExecError("quit x", `invalid number "x"`)
	})
}

func TestConfigCommand(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config max-read-size 16")
		term.AssertExecError(fmt.Sprintf("read %#x 32", stackPage), "size must be between 1 and 16")
		out := term.MustExec("config -list")
		if !strings.Contains(out, "max-read-size") || !strings.Contains(out, "16") || !strings.Contains(out, "<not defined>") {
			t.Fatalf("config -list:\n%s", out)
		}

		term.MustExec("config auto-slide true")
		if !term.conf.AutoSlide {
			t.Fatalf("auto-slide not set")
		}
		term.AssertExecError("config bogus 1", `"bogus" is not a configuration parameter`)
		term.AssertExecError("config max-read-size x", `argument to "max-read-size" must be a number`)

		term.MustExec("config alias breakpoint brk")
		term.AssertExec("brk list", "0 breakpoints set\n")
		term.MustExec("config alias brk")
		term.AssertExecError("brk list", "command not available")
	})
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExceptionNotification(t *testing.T) {
	withAttachedTerminal(t, func(term *FakeTerminal) {
		out := &lockedBuffer{}
		term.stdout = out
		thread := term.p.Thread(0).Name

		ch, err := term.k.Raise(term.p, 0, mach.ExcBreakpoint, 1, 0x100003f00)
		if err != nil {
			t.Fatal(err)
		}
		select {
		case reply := <-ch:
			if reply.RetCode != mach.KernSuccess {
				t.Fatalf("reply %v", reply.RetCode)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no reply")
		}

		want := fmt.Sprintf("\n[!] Caught exception EXC_BREAKPOINT on thread 0x%x, code=0x1\n", thread)
		deadline := time.Now().Add(2 * time.Second)
		for out.String() != want {
			if time.Now().After(deadline) {
				t.Fatalf("notification %q, want %q", out.String(), want)
			}
			time.Sleep(time.Millisecond)
		}
	})
}
