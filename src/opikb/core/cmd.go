// Package core provides the opikb command tree and the build driver.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/common/version"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/output"
	"github.com/bitswalk/opikb/src/opikb/stages"
	"github.com/spf13/cobra"
)

const programName = "opikb"

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()
)

// Linker variables - these are set via ldflags at build time
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// errBuildFailed is returned once a failed build has been reported
var errBuildFailed = errors.New("kernel build failed")

// Deps are the process-level collaborators of a command
type Deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Host   stages.HostInfo
	// NewRunner creates the command runner for a build
	NewRunner func(log *logs.Logger, echo bool) executor.Runner
}

// DefaultDeps runs commands on the real host
func DefaultDeps() Deps {
	return Deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Host:   stages.SystemHost{},
		NewRunner: func(log *logs.Logger, echo bool) executor.Runner {
			return executor.NewHostRunner(log, echo)
		},
	}
}

// NewRootCmd builds the command tree. The root command is the build
// itself; its options are scanned in order by the config package, so
// cobra flag parsing is disabled on it.
func NewRootCmd(d Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   programName + " [options]",
		Short: "Orange Pi 5 Plus kernel builder with Mali G610 GPU support",
		Long: `opikb builds and installs a Linux kernel for the Orange Pi 5 Plus (RK3588)
with the Mali G610 GPU firmware, userspace drivers and OpenCL/Vulkan
registration. Run "opikb --help" for the build options.`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), args, d)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPlanCmd(d))
	root.AddCommand(newHistoryCmd())

	return root
}

// Run executes args and returns the process exit code
func Run(ctx context.Context, args []string, d Deps) int {
	if args == nil {
		args = []string{}
	}

	root := NewRootCmd(d)
	root.SetArgs(args)
	root.SetOut(d.Stdout)
	root.SetErr(d.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errBuildFailed) {
			output.PrintError(d.Stderr, err)
			fmt.Fprintf(d.Stderr, "Run '%s --help' for usage.\n", programName)
		}
		return 1
	}
	return 0
}

// Execute runs the command line of the current process and exits
func Execute() {
	VersionInfo.Version = Version
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], DefaultDeps())
	stop()

	os.Exit(code)
}
