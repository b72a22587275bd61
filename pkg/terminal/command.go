// Package terminal implements functions for responding to user
// input and dispatching to the debugging session.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/spf13/pflag"

	"github.com/phantom-dbg/phantom/pkg/disasm"
	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc"
	"github.com/phantom-dbg/phantom/pkg/proc/arm64util"
)

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the phantom terminal.
type Commands struct {
	cmds []command
	// index maps every alias to the position of its command in cmds.
	index *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach"}, group: runCmds, cmdFn: attach, helpMsg: `Attach to a process by pid or name.

	attach <pid|name>

The process is suspended and its exception handlers are redirected to phantom. A name is resolved to the first process with that exact command name.`},
		{aliases: []string{"suspend", "interrupt"}, group: runCmds, cmdFn: suspend, helpMsg: "Suspend execution of the attached process."},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: "Resume execution of the attached process."},
		{aliases: []string{"detach"}, group: runCmds, cmdFn: detach, helpMsg: `Detach from the attached process.

The original exception handlers are restored. The process is left in its current run state.`},
		{aliases: []string{"step", "si"}, group: runCmds, cmdFn: step, helpMsg: "Step a single machine instruction on every thread."},
		{aliases: []string{"register", "reg"}, group: registerCmds, cmdFn: register, helpMsg: `Read or write general purpose registers of the first thread.

	register read
	register write <name> <value>

Register names are X0-X30, FP, LR, SP and PC.`},
		{aliases: []string{"registerd"}, group: registerCmds, cmdFn: registerDebug, helpMsg: "Print the debug registers of every thread."},
		{aliases: []string{"registerx"}, group: registerCmds, cmdFn: registerException, helpMsg: "Print the exception registers (fault address, syndrome) of every thread."},
		{aliases: []string{"breakpoint", "bp"}, group: breakCmds, cmdFn: pointCommand(arm64util.Breakpoint), helpMsg: `Manage hardware breakpoints by address or index.

	breakpoint set <address>
	breakpoint delete <address|index>
	breakpoint list

An argument made only of decimal digits is an index. Deleting a breakpoint renumbers the following ones.`},
		{aliases: []string{"watchpoint", "wp"}, group: breakCmds, cmdFn: pointCommand(arm64util.Watchpoint), helpMsg: `Manage hardware watchpoints by address or index.

	watchpoint set <address>
	watchpoint delete <address|index>
	watchpoint list

Watchpoints trigger on loads and stores to the doubleword containing the address.`},
		{aliases: []string{"read"}, group: memoryCmds, cmdFn: readMemory, helpMsg: `Dump memory.

	read [-r] <address> <size>

The ASLR slide is added to the address when enabled, unless -r (--raw) is given.`},
		{aliases: []string{"write"}, group: memoryCmds, cmdFn: writeMemory, helpMsg: `Write a value to memory.

	write <address> <value>

The value is written little endian, using as many bytes as needed to hold it, then read back.`},
		{aliases: []string{"read64"}, group: memoryCmds, cmdFn: readWord(8), helpMsg: "Read 64 bits of memory.\n\n\tread64 <address>"},
		{aliases: []string{"write64"}, group: memoryCmds, cmdFn: writeWord(8), helpMsg: "Write 64 bits of memory.\n\n\twrite64 <address> <value>"},
		{aliases: []string{"read32"}, group: memoryCmds, cmdFn: readWord(4), helpMsg: "Read 32 bits of memory.\n\n\tread32 <address>"},
		{aliases: []string{"write32"}, group: memoryCmds, cmdFn: writeWord(4), helpMsg: "Write 32 bits of memory.\n\n\twrite32 <address> <value>"},
		{aliases: []string{"slide"}, group: memoryCmds, cmdFn: slide, helpMsg: `Print or set the ASLR slide.

	slide [value]

Without arguments the slide is printed, resolving it if it is not enabled. With a value the slide is set and enabled.`},
		{aliases: []string{"autoslide"}, group: memoryCmds, cmdFn: autoslide, helpMsg: `Enable or disable the automatic ASLR slide.

	autoslide [on|off|toggle]

When enabled the slide is added to every address given to breakpoint, watchpoint and memory commands.`},
		{aliases: []string{"disassemble", "disass"}, group: memoryCmds, cmdFn: disassemble, helpMsg: `Disassemble from the program counter of the first thread.

	disassemble [-a <address>] [bytes]

The start address is rounded down to 4 bytes and the slide is never applied.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command>
	config alias <command> <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of phantom commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"quit", "exit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger, detaching from the process.

	quit [status]`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.reindex()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

func (c *Commands) reindex() {
	c.index = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.index.Add(alias, i)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.reindex()
}

var noCmdError = errors.New("command not available")

// AmbiguousCommandError is returned when a prefix matches more than one
// command.
type AmbiguousCommandError struct {
	Prefix     string
	Candidates []string
}

func (e AmbiguousCommandError) Error() string {
	return fmt.Sprintf("ambiguous command %q: could be %s", e.Prefix, strings.Join(e.Candidates, ", "))
}

// Find looks up the command for cmdstr: an exact alias, or a prefix
// shared by the aliases of a single command.
func (c *Commands) Find(cmdstr string) (*command, error) {
	if node, ok := c.index.Find(cmdstr); ok {
		return &c.cmds[node.Meta().(int)], nil
	}

	seen := make(map[int]bool)
	var candidates []string
	for _, key := range c.index.PrefixSearch(cmdstr) {
		node, ok := c.index.Find(key)
		if !ok {
			continue
		}
		i := node.Meta().(int)
		if !seen[i] {
			seen[i] = true
			candidates = append(candidates, c.cmds[i].aliases[0])
		}
	}
	switch len(candidates) {
	case 0:
		return nil, noCmdError
	case 1:
		for i := range seen {
			return &c.cmds[i], nil
		}
	}
	sort.Strings(candidates)
	return nil, AmbiguousCommandError{Prefix: cmdstr, Candidates: candidates}
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	args, err := splitArgs(cmdstr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, err := c.Find(args[0])
	if err != nil {
		return err
	}
	return cmd.cmdFn(t, args[1:])
}

func splitArgs(cmdstr string) ([]string, error) {
	cmdstr = strings.TrimSpace(cmdstr)
	if cmdstr == "" {
		return nil, nil
	}
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", cmdstr)
	}
	return v[0], nil
}

func (c *Commands) complete(line string) (out []string) {
	prefix := strings.ToLower(line)
	if strings.ContainsAny(prefix, " \t") {
		return nil
	}
	out = c.index.PrefixSearch(prefix)
	sort.Strings(out)
	return out
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.reindex()
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		cmd, err := c.Find(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(t.stdout, cmd.helpMsg)
		return nil
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func (t *Term) requireAttached() error {
	if t.sess.State() != proc.Attached {
		return proc.ErrNotAttached
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

// parseUint parses a decimal, 0x hexadecimal or 0 octal number.
func parseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

func attach(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: attach <pid|name>")
	}
	pid, err := t.Attach(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "attached to %s (pid %d)\n", args[0], pid)
	if v, on := t.sess.Slide(); on {
		fmt.Fprintf(t.stdout, "aslr slide: 0x%x\n", v)
	}
	return nil
}

func suspend(t *Term, args []string) error {
	if err := t.sess.Interrupt(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "task suspended")
	return nil
}

func cont(t *Term, args []string) error {
	if err := t.sess.Resume(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "task resumed")
	return nil
}

func detach(t *Term, args []string) error {
	pid := t.sess.Pid()
	err := t.sess.Detach()
	if errors.Is(err, proc.ErrNotAttached) {
		return err
	}
	t.detached()
	fmt.Fprintf(t.stdout, "detached from %d\n", pid)
	return err
}

func step(t *Term, args []string) error {
	return t.sess.SingleStep()
}

func register(t *Term, args []string) error {
	const usage = "usage: register read | register write <name> <value>"
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch {
	case args[0] == "read" && len(args) == 1:
		regs, err := t.sess.Registers()
		if err != nil {
			return err
		}
		printRegisters(t, regs)
		return nil
	case args[0] == "write" && len(args) == 3:
		v, err := parseUint(args[2])
		if err != nil {
			return err
		}
		if err := t.sess.WriteRegister(args[1], v); err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "Register %s set to 0x%016x\n", args[1], v)
		return nil
	}
	return errors.New(usage)
}

func printRegisters(t *Term, regs *mach.ThreadState64) {
	title := "Register dump (ARM64):"
	if !t.dumb {
		title = terminalBoldEscapeCode + title + terminalResetEscapeCode
	}
	fmt.Fprintf(t.stdout, "\n%s\n\n", title)
	for i := 0; i <= 28; i++ {
		sep := "    "
		if i%2 == 1 {
			sep = "\n"
		}
		fmt.Fprintf(t.stdout, " X%-2d: 0x%016x%s", i, regs.X[i], sep)
	}
	fmt.Fprintf(t.stdout, " FP: 0x%016x LR: 0x%016x\n", regs.FP, regs.LR)
	fmt.Fprintf(t.stdout, " SP: 0x%016x PC: 0x%016x\n", regs.SP, regs.PC)
	fmt.Fprintf(t.stdout, " CPSR: 0x%016x\n\n", regs.CPSR)
}

func registerDebug(t *Term, args []string) error {
	states, err := t.sess.DebugRegisters()
	if len(states) == 0 {
		return err
	}
	for i, th := range states {
		fmt.Fprintf(t.stdout, "=== THREAD %d (0x%x) DEBUG REGISTERS ===\n", i, th.Thread)
		for j := range th.State.BVR {
			fmt.Fprintf(t.stdout, "BVR[%d]=0x%016x BCR[%d]=0x%016x\n", j, th.State.BVR[j], j, th.State.BCR[j])
		}
		for j := range th.State.WVR {
			fmt.Fprintf(t.stdout, "WVR[%d]=0x%016x WCR[%d]=0x%016x\n", j, th.State.WVR[j], j, th.State.WCR[j])
		}
		fmt.Fprintf(t.stdout, "mdscr_el1: 0x%016x\n\n", th.State.MDSCR)
	}
	return err
}

func registerException(t *Term, args []string) error {
	states, err := t.sess.ExceptionRegisters()
	if len(states) == 0 {
		return err
	}
	for i, th := range states {
		fmt.Fprintf(t.stdout, "=== THREAD %d (0x%x) EXCEPTION REGISTERS ===\n", i, th.Thread)
		fmt.Fprintf(t.stdout, "far: 0x%016x\n", th.State.FAR)
		fmt.Fprintf(t.stdout, "esr: 0x%08x\n", th.State.ESR)
		fmt.Fprintf(t.stdout, "exception: 0x%08x\n\n", th.State.Exception)
	}
	return err
}

type pointOps struct {
	list    func() []proc.Point
	set     func(addr uint64) (proc.Point, error)
	clear   func(addr uint64) (proc.Point, error)
	clearAt func(i int) (proc.Point, error)
}

func (t *Term) pointOps(kind arm64util.Kind) pointOps {
	if kind == arm64util.Watchpoint {
		return pointOps{t.sess.Watchpoints, t.sess.SetWatchpoint, t.sess.ClearWatchpoint, t.sess.ClearWatchpointAt}
	}
	return pointOps{t.sess.Breakpoints, t.sess.SetBreakpoint, t.sess.ClearBreakpoint, t.sess.ClearBreakpointAt}
}

func pointCommand(kind arm64util.Kind) cmdfunc {
	return func(t *Term, args []string) error {
		usage := fmt.Errorf("usage: %[1]s set <address> | %[1]s delete <address|index> | %[1]s list", kind)
		if err := t.requireAttached(); err != nil {
			return err
		}
		if len(args) == 0 {
			return usage
		}
		ops := t.pointOps(kind)
		switch {
		case args[0] == "list" && len(args) == 1:
			printPoints(t, kind, ops.list())
			return nil
		case args[0] == "set" && len(args) == 2:
			addr, err := parseUint(args[1])
			if err != nil {
				return err
			}
			p, err := ops.set(addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(t.stdout, "%s %d set at 0x%016x\n", kind, p.Index, p.Addr)
			return nil
		case args[0] == "delete" && len(args) == 2:
			var p proc.Point
			var err error
			if isDigits(args[1]) {
				var i int
				if i, err = parseInt(args[1]); err != nil {
					return err
				}
				p, err = ops.clearAt(i)
			} else {
				var addr uint64
				if addr, err = parseUint(args[1]); err != nil {
					return err
				}
				p, err = ops.clear(addr)
			}
			var np proc.NoPointError
			if errors.As(err, &np) {
				return err
			}
			fmt.Fprintf(t.stdout, "%s %d at 0x%016x deleted\n", kind, p.Index, p.Addr)
			return err
		}
		return usage
	}
}

func printPoints(t *Term, kind arm64util.Kind, points []proc.Point) {
	label := kind.String() + "s"
	if len(points) == 0 {
		fmt.Fprintf(t.stdout, "0 %s set\n", label)
		return
	}
	fmt.Fprintf(t.stdout, "[i] currently %d %s:\n", len(points), label)
	for _, p := range points {
		fmt.Fprintf(t.stdout, "  [%2d] @ 0x%016x\n", p.Index, p.Addr)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(true)
	return fs
}

func readMemory(t *Term, args []string) error {
	fs := newFlagSet("read")
	raw := fs.BoolP("raw", "r", false, "do not apply the ASLR slide")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: read [-r] <address> <size>")
	}
	addr, err := parseUint(fs.Arg(0))
	if err != nil {
		return err
	}
	size, err := parseUint(fs.Arg(1))
	if err != nil {
		return err
	}
	if max := t.conf.GetMaxReadSize(); size == 0 || size > uint64(max) {
		return fmt.Errorf("size must be between 1 and %d", max)
	}
	var data []byte
	if *raw {
		data, err = t.sess.ReadRaw(addr, int(size))
	} else {
		data, err = t.sess.ReadMemory(addr, int(size))
	}
	if err != nil {
		return err
	}
	hexdump(t.stdout, data)
	return nil
}

// minimalBytes returns v little endian in as few bytes as hold it, at
// least one.
func minimalBytes(v uint64) []byte {
	n := (bits.Len64(v) + 7) / 8
	if n == 0 {
		n = 1
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func writeMemory(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: write <address> <value>")
	}
	addr, err := parseUint(args[0])
	if err != nil {
		return err
	}
	v, err := parseUint(args[1])
	if err != nil {
		return err
	}
	data := minimalBytes(v)
	if err := t.sess.WriteMemory(addr, data); err != nil {
		return err
	}
	back, err := t.sess.ReadMemory(addr, len(data))
	if err != nil {
		return err
	}
	hexdump(t.stdout, back)
	return nil
}

func readWord(size int) cmdfunc {
	return func(t *Term, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("usage: read%d <address>", size*8)
		}
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		data, err := t.sess.ReadMemory(addr, size)
		if err != nil {
			return err
		}
		hexdump(t.stdout, data)
		return nil
	}
}

func writeWord(size int) cmdfunc {
	return func(t *Term, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("usage: write%d <address> <value>", size*8)
		}
		addr, err := parseUint(args[0])
		if err != nil {
			return err
		}
		v, err := parseUint(args[1])
		if err != nil {
			return err
		}
		var back []byte
		if size == 4 {
			if v > 0xffffffff {
				return fmt.Errorf("value %#x does not fit in 32 bits", v)
			}
			back, err = t.sess.Write32(addr, uint32(v))
		} else {
			back, err = t.sess.Write64(addr, v)
		}
		if err != nil {
			return err
		}
		hexdump(t.stdout, back)
		return nil
	}
}

func slide(t *Term, args []string) error {
	if err := t.requireAttached(); err != nil {
		return err
	}
	switch len(args) {
	case 0:
		if v, on := t.sess.Slide(); on {
			fmt.Fprintf(t.stdout, "aslr slide: 0x%x\n", v)
			return nil
		}
		v, err := t.sess.ResolveSlide()
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "aslr slide: 0x%x (not applied)\n", v)
	case 1:
		v, err := parseUint(args[0])
		if err != nil {
			return err
		}
		t.sess.SetManualSlide(v)
		fmt.Fprintf(t.stdout, "aslr slide set to 0x%x\n", v)
	default:
		return errors.New("usage: slide [value]")
	}
	return nil
}

func autoslide(t *Term, args []string) error {
	_, on := t.sess.Slide()
	want := !on
	if len(args) > 1 {
		return errors.New("usage: autoslide [on|off|toggle]")
	}
	if len(args) == 1 {
		switch args[0] {
		case "on", "true":
			want = true
		case "off", "false":
			want = false
		case "toggle":
		default:
			return errors.New("usage: autoslide [on|off|toggle]")
		}
	}
	if err := t.sess.SetAutoSlide(want); err != nil {
		return err
	}
	v, on := t.sess.Slide()
	fmt.Fprintf(t.stdout, "aslr slide enabled: %t\n", on)
	if on {
		fmt.Fprintf(t.stdout, "aslr slide: 0x%x\n", v)
	}
	return nil
}

func disassemble(t *Term, args []string) error {
	fs := newFlagSet("disassemble")
	start := fs.StringP("addr", "a", "", "start address instead of the program counter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("usage: disassemble [-a <address>] [bytes]")
	}
	count := t.conf.GetDisassembleBytes()
	if fs.NArg() == 1 {
		n, err := parseUint(fs.Arg(0))
		if err != nil {
			return err
		}
		if n == 0 || n > uint64(t.conf.GetMaxReadSize()) {
			return fmt.Errorf("byte count must be between 1 and %d", t.conf.GetMaxReadSize())
		}
		count = int(n)
	}

	var addr uint64
	var err error
	if *start != "" {
		addr, err = parseUint(*start)
	} else {
		addr, err = t.sess.ProgramCounter()
	}
	if err != nil {
		return err
	}
	addr &^= disasm.InstructionSize - 1

	code, err := t.sess.ReadRaw(addr, count)
	if err != nil {
		return err
	}
	if t.disasm == nil {
		if t.disasm, err = disasm.New(0); err != nil {
			return err
		}
	}
	printDisassembly(t, t.disasm.Decode(addr, code))
	return nil
}

func (c *Commands) sourceCommand(t *Term, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args[0]) == ".star" {
		return t.starlarkEnv.Execute(args[0], nil)
	}

	return c.executeFile(t, args[0])
}

func exitCommand(t *Term, args []string) error {
	status := 0
	if len(args) > 0 {
		n, err := parseInt(args[0])
		if err != nil {
			return err
		}
		status = n
	}
	return ExitRequestError{Status: status}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
