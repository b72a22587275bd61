package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/proc"
)

const (
	commandPrefix = "command_"
	mainFnName    = "main"
	cancelKey     = "phantom_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true

	starlark.Universe["time"] = startime.Module
}

// Context is what scripts reach the debugger through.
type Context interface {
	Session() *proc.Session
	Attach(target string) (int, error)
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	// Stdout is where print and help write.
	Stdout() io.Writer
}

// Env holds the globals shared by every script run in one terminal.
type Env struct {
	globals starlark.StringDict
	doc     map[string]string
	ctx     Context

	mu     sync.Mutex
	thread *starlark.Thread
	cancel context.CancelFunc
}

func New(ctx Context) *Env {
	env := &Env{ctx: ctx}
	env.globals, env.doc = env.starlarkPredeclare()
	env.globals["phantom_command"] = starlark.NewBuiltin("phantom_command", env.command)
	env.doc["phantom_command"] = "phantom_command(Command...)\n\nruns a shell command, arguments are joined with spaces."
	env.globals["help"] = starlark.NewBuiltin("help", env.help)
	env.doc["help"] = "help(Object)\n\nprints help for Object, or lists the builtins."
	return env
}

func (env *Env) command(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	words := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(starlark.String)
		if !ok {
			return starlark.None, decorateError(thread, fmt.Errorf("argument %d of phantom_command is not a string", i))
		}
		words[i] = string(s)
	}
	return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(words, " ")))
}

func (env *Env) help(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	out := env.ctx.Stdout()
	if len(args) > 1 {
		return starlark.None, decorateError(thread, fmt.Errorf("help takes at most 1 argument"))
	}
	if len(args) == 0 {
		names := make([]string, 0, len(env.globals))
		for name, v := range env.globals {
			if _, ok := v.(*starlark.Builtin); ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		fmt.Fprintln(out, "Available builtins:")
		for _, name := range names {
			fmt.Fprintf(out, "\t%s\n", name)
		}
		return starlark.None, nil
	}
	switch x := args[0].(type) {
	case *starlark.Builtin:
		if d := env.doc[x.Name()]; d != "" {
			fmt.Fprintln(out, d)
		} else {
			fmt.Fprintf(out, "no help for builtin %s\n", x.Name())
		}
	case *starlark.Function:
		fmt.Fprintf(out, "user defined function %s\n", x.Name())
		if d := x.Doc(); d != "" {
			fmt.Fprintln(out, d)
		}
	default:
		fmt.Fprintf(out, "no help for object of type %s\n", x.Type())
	}
	return starlark.None, nil
}

// Execute runs the script at path, or source when it is not nil, then
// calls its main function if it defines one. Globals starting with an
// upper case letter stay visible to later scripts and functions named
// command_<name> become shell commands.
func (env *Env) Execute(path string, source interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logflags.DebuggerLogger().Errorf("starlark script %s panicked: %v\n%s", path, r, debug.Stack())
			err = fmt.Errorf("panic executing starlark script: %v", r)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.globals)
	if err != nil {
		return err
	}
	for name, v := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			env.createCommand(strings.TrimPrefix(name, commandPrefix), v)
		case name[0] >= 'A' && name[0] <= 'Z':
			env.globals[name] = v
		}
	}

	mainv, ok := globals[mainFnName]
	if !ok {
		return nil
	}
	fn, ok := mainv.(*starlark.Function)
	if !ok {
		return fmt.Errorf("%s is not a function", mainFnName)
	}
	if fn.NumParams() != 0 {
		return fmt.Errorf("%s must not take arguments", mainFnName)
	}
	_, err = starlark.Call(thread, fn, nil, nil)
	return err
}

// Cancel stops the script or command function currently running.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.cancel != nil {
		env.cancel()
		env.cancel = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.ctx.Stdout(), msg) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	thread.SetLocal(cancelKey, ctx)
	env.mu.Lock()
	env.thread, env.cancel = thread, cancel
	env.mu.Unlock()
	return thread
}

// createCommand registers fn as shell command name. A function taking a
// single parameter called args receives the raw argument string, any
// other function gets the arguments evaluated as a starlark tuple.
func (env *Env) createCommand(name string, v starlark.Value) {
	fn, ok := v.(*starlark.Function)
	if !ok {
		return
	}
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fn.NumParams() == 1 {
		if p0, _ := fn.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fn, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		v, err := starlark.Eval(thread, "<input>", "("+args+")", env.globals)
		if err != nil {
			return err
		}
		tuple, ok := v.(starlark.Tuple)
		if !ok {
			tuple = starlark.Tuple{v}
		}
		_, err = starlark.Call(thread, fn, tuple, nil)
		return err
	})
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(cancelKey).(context.Context); ok {
		return ctx.Err()
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
