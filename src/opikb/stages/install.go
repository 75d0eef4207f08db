package stages

import (
	"context"
	"path/filepath"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// kernelImage is the built image, relative to the kernel tree
var kernelImage = filepath.Join("arch", "arm64", "boot", "Image")

// Install installs modules, device trees and the kernel into /boot
type Install struct{}

// Name returns the stage name
func (s *Install) Name() string { return NameInstall }

// Validate checks that there is a kernel image to install
func (s *Install) Validate(ctx context.Context, sc *pipeline.Context) error {
	image := filepath.Join(sc.Config.KernelDir(), kernelImage)
	if !paths.IsFile(image) {
		return fsError(nil, NameInstall, "kernel image %s not found", image)
	}
	return nil
}

// Execute installs the build. Modules and the kernel image are required;
// the rest only warns.
func (s *Install) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	release := cfg.Release()
	sc.Log.Info("Installing kernel...", "release", release)

	if err := run(ctx, sc, NameInstall, makeCmd(cfg, "modules_install"), "failed to install kernel modules"); err != nil {
		return err
	}
	try(ctx, sc, makeCmd(cfg, "dtbs_install"), "Failed to install device tree blobs")

	vmlinuz := cfg.BootPath("vmlinuz-" + release)
	if err := copyFile(filepath.Join(cfg.KernelDir(), kernelImage), vmlinuz, 0644); err != nil {
		return fsError(err, NameInstall, "failed to install kernel image to %s", vmlinuz)
	}

	extras := []struct{ src, dst string }{
		{"System.map", cfg.BootPath("System.map-" + release)},
		{".config", cfg.BootPath("config-" + release)},
	}
	for _, e := range extras {
		if err := copyFile(filepath.Join(cfg.KernelDir(), e.src), e.dst, 0644); err != nil {
			sc.Warn("Failed to copy "+e.src, "dst", e.dst, "error", err)
		}
	}

	sc.Log.Info("Creating initramfs...")
	try(ctx, sc, executor.Command("update-initramfs", "-c", "-k", release), "Failed to create initramfs")

	sc.Log.Info("Updating bootloader configuration...")
	try(ctx, sc, executor.Command("u-boot-update"), "Failed to update bootloader configuration")

	sc.Log.Success("Kernel installed", "image", vmlinuz)
	return nil
}
