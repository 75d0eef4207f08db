// Package stages implements the kernel build stages and the table that
// orders them.
package stages

import (
	"context"
	"fmt"
	"io"
	"os"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/google/renameio/v2"
)

// Stage names
const (
	NamePreflight    = "preflight"
	NameEnvironment  = "environment"
	NameDependencies = "dependencies"
	NameBlobs        = "blobs"
	NameDrivers      = "drivers"
	NameOpenCL       = "opencl"
	NameVulkan       = "vulkan"
	NameSource       = "source"
	NameConfigure    = "configure"
	NameCompile      = "compile"
	NameArchive      = "archive"
	NameInstall      = "install"
	NameVerify       = "verify"
	NameCleanup      = "cleanup"
)

// Table returns the build stages in execution order with their failure
// policy and skip rule.
func Table(host HostInfo) []pipeline.Step {
	return []pipeline.Step{
		{Stage: &Preflight{Host: host}, Policy: pipeline.Fatal},
		{Stage: &Environment{}, Policy: pipeline.Fatal},
		{Stage: &Dependencies{Host: host}, Policy: pipeline.Fatal},
		{Stage: &Blobs{}, Policy: pipeline.Fatal, Skip: skipWithoutGPU},
		{Stage: &Drivers{}, Policy: pipeline.Fatal, Skip: skipWithoutGPU},
		{Stage: &OpenCL{}, Policy: pipeline.Fatal, Skip: skipWithoutOpenCL},
		{Stage: &Vulkan{}, Policy: pipeline.Fatal, Skip: skipWithoutVulkan},
		{Stage: &Source{}, Policy: pipeline.Fatal},
		{Stage: &Configure{}, Policy: pipeline.Fatal},
		{Stage: &Compile{}, Policy: pipeline.Fatal},
		{Stage: &Archive{}, Policy: pipeline.BestEffort, Skip: skipWithoutArchive},
		{Stage: &Install{}, Policy: pipeline.Fatal, Skip: skipNoInstall},
		{Stage: &Verify{}, Policy: pipeline.BestEffort, Skip: skipVerify},
		{Stage: &Cleanup{}, Policy: pipeline.BestEffort, Skip: skipCleanup},
	}
}

// New returns the build pipeline
func New(host HostInfo) *pipeline.Pipeline {
	return pipeline.New(Table(host)...)
}

func skipWithoutGPU(cfg *config.Config) string {
	if !cfg.GPU {
		return "GPU support disabled"
	}
	return ""
}

// OpenCL and Vulkan registration hang off the GPU blobs, so a re-enabled
// API flag without GPU support still skips.
func skipWithoutOpenCL(cfg *config.Config) string {
	if reason := skipWithoutGPU(cfg); reason != "" {
		return reason
	}
	if !cfg.OpenCL {
		return "OpenCL support disabled"
	}
	return ""
}

func skipWithoutVulkan(cfg *config.Config) string {
	if reason := skipWithoutGPU(cfg); reason != "" {
		return reason
	}
	if !cfg.Vulkan {
		return "Vulkan support disabled"
	}
	return ""
}

func skipWithoutArchive(cfg *config.Config) string {
	if !cfg.Archive.Enabled() {
		return "no artifact store configured"
	}
	return ""
}

func skipNoInstall(cfg *config.Config) string {
	if cfg.NoInstall {
		return "installation disabled"
	}
	return ""
}

func skipVerify(cfg *config.Config) string {
	switch {
	case !cfg.VerifyGPU:
		return "GPU verification not requested"
	case cfg.NoInstall:
		return "installation disabled"
	case !cfg.GPU:
		return "GPU support disabled"
	}
	return ""
}

func skipCleanup(cfg *config.Config) string {
	if !cfg.Cleanup {
		return "cleanup not requested"
	}
	return ""
}

// noValidation is embedded by stages without preconditions of their own
type noValidation struct{}

func (noValidation) Validate(ctx context.Context, sc *pipeline.Context) error { return nil }

// run executes c and turns a failure into a stage error
func run(ctx context.Context, sc *pipeline.Context, stage string, c executor.Cmd, what string) error {
	res := sc.Runner.Run(ctx, c)
	if err := res.Failure(); err != nil {
		return cerrors.Wrap(err, cerrors.Domain(stage), cerrors.CodeCommandFailed, what)
	}
	return nil
}

// try executes c and logs warning if it fails
func try(ctx context.Context, sc *pipeline.Context, c executor.Cmd, warning string) bool {
	res := sc.Runner.Run(ctx, c)
	if err := res.Failure(); err != nil {
		sc.Warn(warning, "cmd", res.Command, "exit", res.ExitCode)
		return false
	}
	return true
}

func makeCmd(cfg *config.Config, args ...string) executor.Cmd {
	return executor.Command("make", args...).In(cfg.KernelDir())
}

func jobs(cfg *config.Config) string {
	return fmt.Sprintf("-j%d", cfg.Jobs)
}

// copyFile copies src to dst atomically with the given mode
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := paths.EnsureDir(dst); err != nil {
		return err
	}

	t, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.Chmod(perm); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// fsError wraps a filesystem failure for stage
func fsError(err error, stage, format string, args ...interface{}) error {
	return cerrors.Wrap(err, cerrors.Domain(stage), cerrors.CodeFilesystem, fmt.Sprintf(format, args...))
}
