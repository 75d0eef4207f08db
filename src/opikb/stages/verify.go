package stages

import (
	"bytes"
	"context"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Verify checks the installed GPU userspace
type Verify struct {
	noValidation
}

// Name returns the stage name
func (s *Verify) Name() string { return NameVerify }

// Execute requires the firmware and driver to be in place, then asks the
// OpenCL and Vulkan diagnostic tools whether they see a Mali device.
func (s *Verify) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Verifying GPU installation...")

	if !paths.Exists(cfg.FirmwarePath()) {
		return cerrors.Newf(NameVerify, cerrors.CodePrecondition, "Mali firmware not found at %s", cfg.FirmwarePath())
	}
	if !paths.Exists(cfg.DriverPath()) {
		return cerrors.Newf(NameVerify, cerrors.CodePrecondition, "Mali driver not found at %s", cfg.DriverPath())
	}

	checks := []struct {
		api  string
		icd  string
		tool string
	}{
		{"OpenCL", cfg.OpenCLICDPath(), "clinfo"},
		{"Vulkan", cfg.VulkanICDPath(), "vulkaninfo"},
	}
	for _, p := range checks {
		if !paths.Exists(p.icd) {
			continue
		}
		sc.Log.Info("Testing " + p.api + "...")
		// only stdout counts: loader errors on stderr name the driver too
		c := executor.Command(p.tool)
		c.Quiet = true
		c.DiscardStderr = true
		res := sc.Runner.Run(ctx, c)
		if res.OK() && mentionsMali(res.Output) {
			sc.Log.Success(p.api + " Mali GPU detected")
		} else {
			sc.Warn(p.api + " Mali GPU not detected (may need reboot)")
		}
	}

	sc.Log.Success("GPU verification completed")
	return nil
}

func mentionsMali(out []byte) bool {
	return bytes.Contains(bytes.ToLower(out), []byte("mali"))
}
