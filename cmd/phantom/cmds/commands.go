package cmds

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phantom-dbg/phantom/pkg/config"
	"github.com/phantom-dbg/phantom/pkg/logflags"
	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/terminal"
	"github.com/phantom-dbg/phantom/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// ptraceAttach overrides the ptrace-attach config option.
	ptraceAttach bool
	// autoSlide overrides the auto-slide config option.
	autoSlide bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	// host returns the kernel the session drives.
	host = mach.Host
)

const phantomCommandLongDesc = `Phantom is an attach-based debugger for arm64 Mach processes.

Phantom takes over the exception ports of a running task and lets you
suspend and resume it, inspect and modify registers and memory, and set
hardware breakpoints and watchpoints. Addresses typed at the prompt can be
adjusted by the ASLR slide of the main executable.

Phantom needs the task_for_pid entitlement or root privileges.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "phantom",
		Short: "Phantom is a debugger for arm64 Mach processes.",
		Long:  phantomCommandLongDesc,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd, ""))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'phantom help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'phantom help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal.")
	rootCommand.PersistentFlags().BoolVar(&ptraceAttach, "ptrace-attach", conf.PtraceAttach, "Run the ptrace attach primitive before taking the exception ports.")
	rootCommand.PersistentFlags().BoolVar(&autoSlide, "auto-slide", conf.AutoSlide, "Resolve and apply the ASLR slide after attaching.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid|name",
		Short: "Attach to a running process and begin debugging.",
		Long: `Attach to an already running process and begin debugging it.

The target is either a pid or the name of a running process. Phantom refuses
to attach to itself.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a pid or a process name")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd, args[0]))
		},
	}
	rootCommand.AddCommand(attachCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Phantom Debugger\n%s\n", version.PhantomVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log session lifecycle and command execution
	exceptions	Log exception messages and replies
	memory		Log memory reads, writes and protection changes
	kernel		Log kernel calls

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	return rootCommand
}

func execute(cmd *cobra.Command, target string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if cmd.Flags().Changed("ptrace-attach") {
		conf.PtraceAttach = ptraceAttach
	}
	if cmd.Flags().Changed("auto-slide") {
		conf.AutoSlide = autoSlide
	}

	term := terminal.New(host(), conf)
	term.InitFile = initFile

	if target != "" {
		pid, err := term.Attach(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not attach to %s: %v\n", target, err)
			return 1
		}
		logflags.DebuggerLogger().Debugf("attached to %s (pid %d)", target, pid)
	}

	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
