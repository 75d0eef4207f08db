package stages

import (
	"context"
	"path/filepath"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/google/renameio/v2"
)

// DriverLinks are the library names pointed at the Mali driver so that
// applications linking the generic GL, EGL and GBM sonames pick it up.
var DriverLinks = []string{
	"libMali.so",
	"libMali.so.1",
	"libmali.so",
	"libmali.so.1",
	"libEGL.so.1",
	"libGLESv1_CM.so.1",
	"libGLESv2.so.2",
	"libgbm.so.1",
}

// VulkanDriverLink is the name the Vulkan ICD variant is exposed under
const VulkanDriverLink = "libvulkan_mali.so"

// Drivers installs the downloaded firmware and userspace drivers
type Drivers struct{}

// Name returns the stage name
func (s *Drivers) Name() string { return NameDrivers }

// Validate checks that the required blobs were downloaded
func (s *Drivers) Validate(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	for _, name := range []string{cfg.FirmwareName(), cfg.DriverName()} {
		if p := filepath.Join(cfg.BlobDir(), name); !paths.IsFile(p) {
			return fsError(nil, NameDrivers, "missing downloaded blob %s", p)
		}
	}
	return nil
}

// Execute copies firmware and driver into place, then points the
// compatibility links at the driver.
func (s *Drivers) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	blobDir := cfg.BlobDir()
	sc.Log.Info("Installing Mali GPU drivers...")

	if err := copyFile(filepath.Join(blobDir, cfg.FirmwareName()), cfg.FirmwarePath(), 0644); err != nil {
		return fsError(err, NameDrivers, "failed to install Mali firmware to %s", cfg.FirmwarePath())
	}
	if err := copyFile(filepath.Join(blobDir, cfg.DriverName()), cfg.DriverPath(), 0644); err != nil {
		return fsError(err, NameDrivers, "failed to install Mali driver to %s", cfg.DriverPath())
	}

	libDir := filepath.Dir(cfg.DriverPath())
	for _, link := range DriverLinks {
		if err := renameio.Symlink(cfg.DriverPath(), filepath.Join(libDir, link)); err != nil {
			sc.Warn("Failed to create driver symlink", "link", link, "error", err)
		}
	}

	if cfg.Vulkan {
		s.installVulkan(sc)
	}

	try(ctx, sc, executor.Command("ldconfig"), "Failed to refresh the shared library cache")

	sc.Log.Success("Mali GPU drivers installed")
	return nil
}

// installVulkan installs the Vulkan driver variant when it was downloaded
func (s *Drivers) installVulkan(sc *pipeline.Context) {
	cfg := sc.Config
	src := filepath.Join(cfg.BlobDir(), cfg.VulkanDriverName())
	if !paths.IsFile(src) {
		sc.Log.Debug("No Vulkan driver variant downloaded", "path", src)
		return
	}

	sc.Log.Info("Installing Vulkan driver...")
	if err := copyFile(src, cfg.VulkanDriverPath(), 0644); err != nil {
		sc.Warn("Failed to install Vulkan driver", "error", err)
		return
	}
	link := filepath.Join(filepath.Dir(cfg.VulkanDriverPath()), VulkanDriverLink)
	if err := renameio.Symlink(cfg.VulkanDriverPath(), link); err != nil {
		sc.Warn("Failed to create Vulkan driver symlink", "link", VulkanDriverLink, "error", err)
	}
}
