package mach

import (
	"fmt"
	"os"
	"path/filepath"
)

// Proc is one entry of the host process table.
type Proc struct {
	Pid  int
	Name string
}

// PidOf returns the pid of the first process whose command name is name.
// Command names are truncated by the kernel, so name is compared after
// the same truncation.
func PidOf(name string) (int, error) {
	procs, err := Processes()
	if err != nil {
		return 0, err
	}
	if len(name) > maxCommLen {
		name = name[:maxCommLen]
	}
	for _, p := range procs {
		if p.Name == name {
			return p.Pid, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNoSuchProcess, name)
}

// SelfName returns the command name of the running debugger.
func SelfName() string {
	name := filepath.Base(os.Args[0])
	if len(name) > maxCommLen {
		name = name[:maxCommLen]
	}
	return name
}
