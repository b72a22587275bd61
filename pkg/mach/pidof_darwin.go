//go:build darwin

package mach

import "golang.org/x/sys/unix"

// maxCommLen is MAXCOMLEN, the size of p_comm minus its terminator.
const maxCommLen = 16

// Processes lists the host processes through the kern.proc.all sysctl.
func Processes() ([]Proc, error) {
	kprocs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, err
	}
	procs := make([]Proc, 0, len(kprocs))
	for i := range kprocs {
		p := &kprocs[i].Proc
		var name []byte
		for _, c := range p.P_comm {
			if c == 0 {
				break
			}
			name = append(name, byte(c))
		}
		procs = append(procs, Proc{Pid: int(p.P_pid), Name: string(name)})
	}
	return procs, nil
}
