package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bitswalk/opikb/src/common/cli"
	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrHelp is returned by Resolve when -h or --help is on the command line
var ErrHelp = pflag.ErrHelp

// NewFlagSet declares the build flags. It only describes the surface;
// Resolve applies values itself so that command-line order is kept.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("opikb", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	fs.StringP("version", "v", DefaultKernelVersion, "Kernel version to build")
	fs.IntP("jobs", "j", 0, "Number of parallel make jobs (default: CPU count)")
	fs.StringP("build-dir", "d", DefaultBuildDir, "Build directory")
	fs.BoolP("clean", "c", false, "Run 'make mrproper' before configuring")
	fs.String("defconfig", DefaultDefconfig, "Kernel defconfig target")
	fs.String("cross-compile", DefaultCrossCompile, "Cross-compiler prefix")
	fs.Bool("verbose", false, "Stream command output to the console")
	fs.Bool("no-install", false, "Build only, do not install the kernel")
	fs.Bool("cleanup", false, "Remove build and blob directories when done")
	fs.Bool("enable-gpu", false, "Enable Mali GPU support (on by default)")
	fs.Bool("disable-gpu", false, "Disable Mali GPU support, OpenCL and Vulkan")
	fs.Bool("enable-opencl", false, "Enable OpenCL support (on by default)")
	fs.Bool("disable-opencl", false, "Disable OpenCL support")
	fs.Bool("enable-vulkan", false, "Enable Vulkan support (on by default)")
	fs.Bool("disable-vulkan", false, "Disable Vulkan support")
	fs.Bool("verify-gpu", false, "Verify GPU userspace after install")
	fs.String("config", "", "Config file (default: /etc/opikb/opikb.yaml, ~/.config/opikb/opikb.yaml)")
	fs.BoolP("help", "h", false, "Show this help message")

	return fs
}

type flagValue struct {
	name  string
	value string
}

// scan walks args left to right and returns the recognized flags in the
// order they appeared. A value flag left without its value at the very
// end is dropped.
func scan(args []string) ([]flagValue, error) {
	fs := NewFlagSet()
	var seen []flagValue
	help := false

	err := fs.ParseAll(args, func(f *pflag.Flag, value string) error {
		if f.Name == "help" {
			if on, _ := strconv.ParseBool(value); on {
				help = true
				return ErrHelp
			}
			return nil
		}
		seen = append(seen, flagValue{name: f.Name, value: value})
		return nil
	})
	if help {
		return nil, ErrHelp
	}
	if err != nil {
		// pflag only reports a missing value for the final token
		if strings.HasPrefix(err.Error(), "flag needs an argument") {
			return seen, nil
		}
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument %q", rest[0])
	}

	return seen, nil
}

// Resolve builds the configuration: built-in defaults, then the config file
// and OPIKB_* environment, then the command line applied in order.
func Resolve(v *viper.Viper, args []string) (*Config, error) {
	seen, err := scan(args)
	if err == ErrHelp {
		return nil, ErrHelp
	}
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainConfig, cerrors.CodeInvalidArgument, "invalid command line")
	}

	opts := cli.DefaultConfigOptions("opikb", "OPIKB")
	for _, fv := range seen {
		if fv.name == "config" {
			opts.ConfigFile = fv.value
		}
	}

	RegisterDefaults(v)
	if err := cli.InitConfig(v, opts); err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainConfig, cerrors.CodeInvalidArgument, "cannot load configuration")
	}

	cfg := FromViper(v)
	for _, fv := range seen {
		if err := cfg.apply(fv.name, fv.value); err != nil {
			return nil, cerrors.Wrap(err, cerrors.DomainConfig, cerrors.CodeInvalidArgument, "invalid command line")
		}
	}
	cfg.normalize()

	return cfg, nil
}

// apply mutates the record for one flag occurrence
func (c *Config) apply(name, value string) error {
	switch name {
	case "version":
		c.KernelVersion = value
		return nil
	case "jobs":
		c.Jobs = parseJobs(value)
		return nil
	case "build-dir":
		c.BuildDir = paths.Expand(value)
		return nil
	case "defconfig":
		c.Defconfig = value
		return nil
	case "cross-compile":
		c.CrossCompile = value
		return nil
	case "config":
		// read before the config file was loaded
		return nil
	}

	on, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value %q for --%s", value, name)
	}

	switch name {
	case "clean":
		c.Clean = on
	case "verbose":
		c.Verbose = on
	case "no-install":
		c.NoInstall = on
	case "cleanup":
		c.Cleanup = on
	case "verify-gpu":
		c.VerifyGPU = on
	case "enable-gpu":
		c.SetGPU(on)
	case "disable-gpu":
		c.SetGPU(!on)
	case "enable-opencl":
		c.OpenCL = on
	case "disable-opencl":
		c.OpenCL = !on
	case "enable-vulkan":
		c.Vulkan = on
	case "disable-vulkan":
		c.Vulkan = !on
	default:
		return fmt.Errorf("unhandled flag --%s", name)
	}
	return nil
}

// parseJobs reads the leading decimal digits of value, so "4abc" means 4.
// It returns 0 (meaning "use the CPU count") when there are none or the
// number is not positive.
func parseJobs(value string) int {
	value = strings.TrimLeft(value, " \t\n")
	value = strings.TrimPrefix(value, "+")
	end := 0
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(value[:end])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
