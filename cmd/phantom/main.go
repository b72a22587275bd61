package main

import (
	"os"

	"github.com/phantom-dbg/phantom/cmd/phantom/cmds"
	"github.com/phantom-dbg/phantom/pkg/logflags"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		logflags.DebuggerLogger().Error(err)
		os.Exit(1)
	}
}
