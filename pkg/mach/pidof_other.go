//go:build !darwin

package mach

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxCommLen is TASK_COMM_LEN minus its terminator.
const maxCommLen = 15

// Processes lists the host processes by scanning /proc.
func Processes() ([]Proc, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, ErrNotSupported
	}
	var procs []Proc
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		procs = append(procs, Proc{Pid: pid, Name: strings.TrimSpace(string(comm))})
	}
	return procs, nil
}
