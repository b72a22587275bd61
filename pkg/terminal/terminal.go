package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/phantom-dbg/phantom/pkg/config"
	"github.com/phantom-dbg/phantom/pkg/disasm"
	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc"
	"github.com/phantom-dbg/phantom/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".phantom_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalDimEscapeCode       string = "\033[2;37m"
	terminalBoldEscapeCode      string = "\033[1m"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// Term represents the terminal running phantom.
type Term struct {
	sess     *proc.Session
	conf     *config.Config
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string

	starlarkEnv *starbind.Env
	disasm      *disasm.Disassembler

	// lookup resolves a process name to a pid.
	lookup   func(name string) (int, error)
	selfName string

	mu   sync.Mutex
	name string

	prompting atomic.Bool
}

// New returns a new Term driving a session on kernel.
func New(kernel mach.Kernel, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}

	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if pc := conf.PromptColor; pc != 0 && ((pc > ansiWhite && pc < ansiBrBlack) || pc < ansiBlack || pc > ansiBrWhite) {
		conf.PromptColor = 0
	}

	dumb := isDumbTerminal()
	t := &Term{
		conf:     conf,
		cmds:     cmds,
		dumb:     dumb,
		stdout:   newSyncWriter(getWriter(dumb)),
		lookup:   mach.PidOf,
		selfName: mach.SelfName(),
	}
	t.sess = proc.New(kernel, proc.Options{
		Notifier:     t,
		PtraceAttach: conf.PtraceAttach,
		AutoSlide:    conf.AutoSlide,
	})
	t.starlarkEnv = starbind.New(starlarkContext{t})
	return t
}

// Session returns the debugging session driven by the terminal.
func (t *Term) Session() *proc.Session {
	return t.sess
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		if t.sess.State() != proc.Attached {
			continue
		}
		fmt.Fprintf(t.stdout, "received SIGINT, suspending process\n")
		if err := t.sess.Interrupt(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running phantom in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if exit, ok := err.(ExitRequestError); ok {
				return t.handleExit(exit.Status)
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit(0)
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if exit, ok := err.(ExitRequestError); ok {
				return t.handleExit(exit.Status)
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Attach attaches the session to target, a pid or a process name, and
// records the name shown in the prompt.
func (t *Term) Attach(target string) (int, error) {
	pid, err := t.resolveTarget(target)
	if err != nil {
		return 0, err
	}
	if _, err := t.sess.Attach(pid); err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.name = target
	t.mu.Unlock()
	return pid, nil
}

func (t *Term) resolveTarget(target string) (int, error) {
	if isDigits(target) {
		pid, err := parseInt(target)
		if err != nil {
			return 0, err
		}
		if pid == os.Getpid() {
			return 0, proc.ErrSelfAttach
		}
		return pid, nil
	}
	if target == t.selfName {
		return 0, proc.ErrSelfAttach
	}
	return t.lookup(target)
}

func (t *Term) detached() {
	t.mu.Lock()
	t.name = ""
	t.mu.Unlock()
}

// ExceptionRaised prints an asynchronous exception notification and, if
// the user is being prompted, the prompt again.
func (t *Term) ExceptionRaised(ev *proc.ExceptionEvent) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[!] Caught exception %s on thread 0x%x, code=0x%x\n", ev.Exception, ev.Thread, ev.Code())
	if t.prompting.Load() {
		b.WriteString(t.prompt())
	}
	io.WriteString(t.stdout, b.String())
	logflags.ExceptionsLogger().WithFields(logflags.Fields{"thread": ev.Thread, "codes": ev.Codes}).Debugf("notified %v", ev.Exception)
}

// prompt returns "(phantom) " followed by the attached process name.
func (t *Term) prompt() string {
	t.mu.Lock()
	name := t.name
	t.mu.Unlock()
	if t.sess.State() != proc.Attached {
		name = ""
	}

	var b strings.Builder
	if t.dumb {
		b.WriteString("(phantom)")
		if name != "" {
			b.WriteString(" " + name)
		}
		b.WriteString(" > ")
		return b.String()
	}
	b.WriteString(terminalDimEscapeCode + "(phantom)" + terminalResetEscapeCode)
	if name != "" {
		fmt.Fprintf(&b, " "+terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode, t.conf.GetPromptColor(), name)
	}
	b.WriteString(" > ")
	return b.String()
}

func (t *Term) promptForInput() (string, error) {
	t.prompting.Store(true)
	l, err := t.line.Prompt(t.prompt())
	t.prompting.Store(false)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit(status int) (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.sess.State() == proc.Attached {
		if err := t.sess.Detach(); err != nil {
			return 1, err
		}
	}
	return status, nil
}

// ExitRequestError is returned by the quit command.
type ExitRequestError struct {
	Status int
}

func (ere ExitRequestError) Error() string {
	return ""
}
