package terminal

import (
	"io"
	"strings"

	"github.com/phantom-dbg/phantom/pkg/proc"
	"github.com/phantom-dbg/phantom/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Session() *proc.Session {
	return ctx.term.sess
}

func (ctx starlarkContext) Attach(target string) (int, error) {
	return ctx.term.Attach(target)
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args []string) error {
		return fn(strings.Join(args, " "))
	}
	ctx.term.cmds.Register(name, cmdfn, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) Stdout() io.Writer {
	return ctx.term.stdout
}
