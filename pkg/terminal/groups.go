package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	breakCmds
	registerCmds
	memoryCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Attaching and running the process", runCmds},
	{"Hardware breakpoints and watchpoints", breakCmds},
	{"Registers", registerCmds},
	{"Memory and disassembly", memoryCmds},
	{"Other commands", otherCmds},
}
