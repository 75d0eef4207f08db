package stages

import (
	"context"

	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Packages are installed in one apt transaction, in this order
var Packages = []string{
	// toolchain and kernel build requirements
	"build-essential", "gcc-aarch64-linux-gnu", "g++-aarch64-linux-gnu",
	"libncurses-dev", "gawk", "flex", "bison", "openssl", "libssl-dev",
	"dkms", "libelf-dev", "libudev-dev", "libpci-dev", "libiberty-dev",
	"autoconf", "llvm",
	// fetch and packaging tools
	"git", "wget", "curl", "bc", "rsync", "kmod", "cpio", "python3",
	"python3-pip", "device-tree-compiler",
	"fakeroot", "kernel-package", "pkg-config-dbgsym",
	// OpenCL and Vulkan userspace
	"mesa-opencl-icd", "vulkan-tools", "vulkan-utils", "vulkan-validationlayers",
	"libvulkan-dev", "ocl-icd-opencl-dev", "opencl-headers", "clinfo",
	// video acceleration
	"va-driver-all", "vdpau-driver-all", "mesa-va-drivers", "mesa-vdpau-drivers",
	// graphics development headers
	"libegl1-mesa-dev", "libgles2-mesa-dev", "libgl1-mesa-dev", "libdrm-dev",
	"libgbm-dev", "libwayland-dev", "libx11-dev", "meson", "ninja-build",
}

// Dependencies installs the host packages the build needs
type Dependencies struct {
	noValidation
	Host HostInfo
}

// Name returns the stage name
func (s *Dependencies) Name() string { return NameDependencies }

// Execute installs Packages, then the kernel build dependencies of the
// running kernel on a best-effort basis.
func (s *Dependencies) Execute(ctx context.Context, sc *pipeline.Context) error {
	sc.Log.Info("Installing build dependencies...", "packages", len(Packages))

	install := executor.Command("apt", append([]string{"install", "-y"}, Packages...)...)
	install.Env = map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	if err := run(ctx, sc, NameDependencies, install, "failed to install build dependencies"); err != nil {
		return err
	}

	release, err := s.Host.KernelRelease()
	if err != nil {
		sc.Warn("Cannot determine running kernel release, skipping apt build-dep", "error", err)
	} else {
		try(ctx, sc, executor.Command("apt", "build-dep", "-y", "linux", "linux-image-unsigned-"+release),
			"Some build dependencies may be missing")
	}

	sc.Log.Success("Build dependencies installed")
	return nil
}
