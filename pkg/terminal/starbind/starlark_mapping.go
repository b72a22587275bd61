package starbind

import (
	"fmt"
	"os"

	"go.starlark.net/starlark"

	"github.com/phantom-dbg/phantom/pkg/proc"
)

// binding is a builtin backed by a session operation. Arguments are
// matched to params by position or by keyword.
type binding struct {
	name   string
	params []string
	doc    string
	fn     func(sess *proc.Session, args *bindingArgs) (interface{}, error)
}

type bindingArgs struct {
	params []string
	vals   []starlark.Value
}

func (a *bindingArgs) set(i int) bool {
	return a.vals[i] != nil && a.vals[i] != starlark.None
}

func (a *bindingArgs) get(i int, dst interface{}) error {
	if !a.set(i) {
		return fmt.Errorf("missing argument %q", a.params[i])
	}
	return unmarshalStarlarkValue(a.vals[i], dst, a.params[i])
}

func (a *bindingArgs) number(i int) (uint64, error) {
	var n uint64
	err := a.get(i, &n)
	return n, err
}

func (env *Env) builtin(b binding) *starlark.Builtin {
	return starlark.NewBuiltin(b.name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		if len(args) > len(b.params) {
			return starlark.None, decorateError(thread, fmt.Errorf("%s takes at most %d arguments", b.name, len(b.params)))
		}
		ba := &bindingArgs{params: b.params, vals: make([]starlark.Value, len(b.params))}
		copy(ba.vals, args)
		for _, kv := range kwargs {
			name, _ := starlark.AsString(kv[0])
			found := false
			for i, p := range b.params {
				if p == name {
					ba.vals[i] = kv[1]
					found = true
					break
				}
			}
			if !found {
				return starlark.None, decorateError(thread, fmt.Errorf("unknown argument %q", name))
			}
		}
		r, err := b.fn(env.ctx.Session(), ba)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(r), nil
	})
}

func noValue(err error) (interface{}, error) {
	return nil, err
}

func (env *Env) bindings() []binding {
	return []binding{
		{"attach", []string{"Target"}, "attach(Target)\n\nattaches to a process by pid or name and returns its pid.", func(_ *proc.Session, a *bindingArgs) (interface{}, error) {
			var target string
			if err := a.get(0, &target); err != nil {
				return nil, err
			}
			return env.ctx.Attach(target)
		}},
		{"detach", nil, "detach()\n\nrestores the exception ports of the attached process.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return noValue(s.Detach())
		}},
		{"interrupt", nil, "interrupt()\n\nsuspends the attached process.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return noValue(s.Interrupt())
		}},
		{"resume", nil, "resume()\n\nresumes the attached process.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return noValue(s.Resume())
		}},
		{"step", nil, "step()\n\nsteps one instruction on every thread.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return noValue(s.SingleStep())
		}},
		{"state", nil, "state()\n\nreturns the session state.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.State(), nil
		}},
		{"pid", nil, "pid()\n\nreturns the attached pid, 0 when detached.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.Pid(), nil
		}},
		{"registers", nil, "registers()\n\nreturns a dict of the general purpose registers of the first thread.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			regs, err := s.Registers()
			if err != nil {
				return nil, err
			}
			d := starlark.NewDict(34)
			for _, r := range proc.RegisterSlice(regs) {
				d.SetKey(starlark.String(r.Name), starlark.MakeUint64(r.Value))
			}
			return d, nil
		}},
		{"write_register", []string{"Name", "Value"}, "write_register(Name, Value)\n\nsets a general purpose register of the first thread.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			var name string
			if err := a.get(0, &name); err != nil {
				return nil, err
			}
			v, err := a.number(1)
			if err != nil {
				return nil, err
			}
			return noValue(s.WriteRegister(name, v))
		}},
		{"pc", nil, "pc()\n\nreturns the program counter of the first thread.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.ProgramCounter()
		}},
		{"debug_registers", nil, "debug_registers()\n\nreturns the debug registers of every thread.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.DebugRegisters()
		}},
		{"exception_registers", nil, "exception_registers()\n\nreturns the exception registers of every thread.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.ExceptionRegisters()
		}},
		{"read_memory", []string{"Addr", "Size", "Raw"}, "read_memory(Addr, Size, Raw=False)\n\nreads Size bytes at Addr. The slide is added to Addr when enabled, unless Raw is true.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			var size int
			if err := a.get(1, &size); err != nil {
				return nil, err
			}
			var raw bool
			if a.set(2) {
				if err := a.get(2, &raw); err != nil {
					return nil, err
				}
			}
			if raw {
				return s.ReadRaw(addr, size)
			}
			return s.ReadMemory(addr, size)
		}},
		{"write_memory", []string{"Addr", "Data"}, "write_memory(Addr, Data)\n\nwrites Data, bytes or a string, at Addr.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			var data []byte
			if err := a.get(1, &data); err != nil {
				return nil, err
			}
			return noValue(s.WriteMemory(addr, data))
		}},
		{"read64", []string{"Addr"}, "read64(Addr)\n\nreads a little endian 64 bit value.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.Read64(addr)
		}},
		{"read32", []string{"Addr"}, "read32(Addr)\n\nreads a little endian 32 bit value.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.Read32(addr)
		}},
		{"write64", []string{"Addr", "Value"}, "write64(Addr, Value)\n\nwrites a little endian 64 bit value and returns the bytes read back.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			v, err := a.number(1)
			if err != nil {
				return nil, err
			}
			return s.Write64(addr, v)
		}},
		{"write32", []string{"Addr", "Value"}, "write32(Addr, Value)\n\nwrites a little endian 32 bit value and returns the bytes read back.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			var v uint32
			if err := a.get(1, &v); err != nil {
				return nil, err
			}
			return s.Write32(addr, v)
		}},
		{"set_breakpoint", []string{"Addr"}, "set_breakpoint(Addr)\n\nsets a hardware breakpoint and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.SetBreakpoint(addr)
		}},
		{"clear_breakpoint", []string{"Addr"}, "clear_breakpoint(Addr)\n\nremoves the breakpoint at Addr and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.ClearBreakpoint(addr)
		}},
		{"clear_breakpoint_at", []string{"Index"}, "clear_breakpoint_at(Index)\n\nremoves breakpoint Index and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			var i int
			if err := a.get(0, &i); err != nil {
				return nil, err
			}
			return s.ClearBreakpointAt(i)
		}},
		{"breakpoints", nil, "breakpoints()\n\nreturns the list of breakpoints.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.Breakpoints(), nil
		}},
		{"set_watchpoint", []string{"Addr"}, "set_watchpoint(Addr)\n\nsets a hardware watchpoint and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.SetWatchpoint(addr)
		}},
		{"clear_watchpoint", []string{"Addr"}, "clear_watchpoint(Addr)\n\nremoves the watchpoint at Addr and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			addr, err := a.number(0)
			if err != nil {
				return nil, err
			}
			return s.ClearWatchpoint(addr)
		}},
		{"clear_watchpoint_at", []string{"Index"}, "clear_watchpoint_at(Index)\n\nremoves watchpoint Index and returns it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			var i int
			if err := a.get(0, &i); err != nil {
				return nil, err
			}
			return s.ClearWatchpointAt(i)
		}},
		{"watchpoints", nil, "watchpoints()\n\nreturns the list of watchpoints.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.Watchpoints(), nil
		}},
		{"slide", nil, "slide()\n\nreturns a tuple of the ASLR slide and whether it is applied.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			v, on := s.Slide()
			return starlark.Tuple{starlark.MakeUint64(v), starlark.Bool(on)}, nil
		}},
		{"resolve_slide", nil, "resolve_slide()\n\nreads the ASLR slide from the dynamic loader without applying it.", func(s *proc.Session, _ *bindingArgs) (interface{}, error) {
			return s.ResolveSlide()
		}},
		{"set_slide", []string{"Value"}, "set_slide(Value)\n\nsets and applies the ASLR slide.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			v, err := a.number(0)
			if err != nil {
				return nil, err
			}
			s.SetManualSlide(v)
			return nil, nil
		}},
		{"read_file", []string{"Path"}, "read_file(Path)\n\nreturns the contents of a file as a string.", func(_ *proc.Session, a *bindingArgs) (interface{}, error) {
			var path string
			if err := a.get(0, &path); err != nil {
				return nil, err
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(buf), nil
		}},
		{"write_file", []string{"Path", "Text"}, "write_file(Path, Text)\n\nwrites Text to a file, values other than strings are written in their printed form.", func(_ *proc.Session, a *bindingArgs) (interface{}, error) {
			var path string
			if err := a.get(0, &path); err != nil {
				return nil, err
			}
			if !a.set(1) {
				return nil, fmt.Errorf("missing argument %q", a.params[1])
			}
			var data []byte
			switch v := a.vals[1].(type) {
			case starlark.String:
				data = []byte(v)
			case starlark.Bytes:
				data = []byte(v)
			default:
				data = []byte(v.String())
			}
			return noValue(os.WriteFile(path, data, 0640))
		}},
		{"auto_slide", []string{"Enabled"}, "auto_slide(Enabled)\n\nresolves and applies the ASLR slide, or disables it.", func(s *proc.Session, a *bindingArgs) (interface{}, error) {
			var on bool
			if err := a.get(0, &on); err != nil {
				return nil, err
			}
			return noValue(s.SetAutoSlide(on))
		}},
	}
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)
	for _, b := range env.bindings() {
		r[b.name] = env.builtin(b)
		doc[b.name] = "builtin " + b.doc
	}
	return r, doc
}
