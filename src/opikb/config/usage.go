package config

import (
	"fmt"
	"io"
)

// Usage prints the command-line help
func Usage(w io.Writer, program string) {
	fmt.Fprintf(w, `Orange Pi 5 Plus kernel builder with Mali G610 GPU support

Usage:
  %[1]s [OPTIONS]
  %[1]s <command> [flags]

Options:
%[2]s
Commands:
  plan        Show the stages a build with the given options would run
  history     List previous builds recorded in the run journal
  version     Print version information
  completion  Generate a shell completion script

Examples:
  %[1]s                                  Build with default settings
  %[1]s -v 6.8.0 -j 8                    Build kernel 6.8.0 with 8 parallel jobs
  %[1]s --clean --verbose                Clean build with detailed output
  %[1]s --no-install                     Build only, do not install
  %[1]s --disable-gpu                    Build without GPU support
  %[1]s --disable-vulkan                 Build with OpenCL but without Vulkan
  %[1]s --cleanup --verify-gpu           Build, install, verify GPU and clean up
  %[1]s plan -o yaml -- --disable-gpu    Preview the stages without running them

Configuration is read from /etc/opikb/opikb.yaml, ~/.config/opikb/opikb.yaml or
./opikb.yaml, and from OPIKB_* environment variables (e.g. OPIKB_BUILD_JOBS=8).
Command-line flags win and are applied left to right.
`, program, NewFlagSet().FlagUsages())
}
