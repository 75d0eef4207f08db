package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// ConfigDirectives are appended to the kernel .config after the base
// defconfig; olddefconfig then resolves their dependencies.
var ConfigDirectives = []string{
	// RK3588 platform
	"CONFIG_ARCH_ROCKCHIP=y",
	"CONFIG_ARM64=y",
	"CONFIG_ROCKCHIP_RK3588=y",
	"CONFIG_COMMON_CLK_RK808=y",
	"CONFIG_ROCKCHIP_IOMMU=y",
	"CONFIG_ROCKCHIP_PM_DOMAINS=y",
	"CONFIG_ROCKCHIP_THERMAL=y",

	// display
	"CONFIG_DRM=y",
	"CONFIG_DRM_ROCKCHIP=y",
	"CONFIG_ROCKCHIP_VOP2=y",
	"CONFIG_DRM_PANFROST=y",
	"CONFIG_DRM_PANEL_BRIDGE=y",
	"CONFIG_DRM_PANEL_SIMPLE=y",

	// Mali kernel driver
	"CONFIG_MALI_MIDGARD=m",
	`CONFIG_MALI_PLATFORM_NAME="devicetree"`,
	"CONFIG_MALI_CSF_SUPPORT=y",
	"CONFIG_MALI_DEVFREQ=y",
	"CONFIG_MALI_DMA_FENCE=y",

	// memory and DMA
	"CONFIG_DMA_CMA=y",
	"CONFIG_CMA=y",
	"CONFIG_CMA_SIZE_MBYTES=128",
	"CONFIG_DMA_SHARED_BUFFER=y",
	"CONFIG_SYNC_FILE=y",

	// peripherals
	"CONFIG_PHY_ROCKCHIP_INNO_USB2=y",
	"CONFIG_PHY_ROCKCHIP_NANENG_COMBO_PHY=y",
	"CONFIG_ROCKCHIP_SARADC=y",
	"CONFIG_MMC_DW_ROCKCHIP=y",
	"CONFIG_PCIE_ROCKCHIP_HOST=y",

	// video codecs
	"CONFIG_STAGING_MEDIA=y",
	"CONFIG_VIDEO_ROCKCHIP_RGA=m",
	"CONFIG_VIDEO_ROCKCHIP_VDEC=m",
	"CONFIG_ROCKCHIP_VPU=y",
	"CONFIG_VIDEO_HANTRO=m",

	// CPU frequency scaling
	"CONFIG_CPU_FREQ=y",
	"CONFIG_CPU_FREQ_DEFAULT_GOV_ONDEMAND=y",
	"CONFIG_CPU_FREQ_GOV_PERFORMANCE=y",
	"CONFIG_CPU_FREQ_GOV_POWERSAVE=y",
	"CONFIG_CPU_FREQ_GOV_USERSPACE=y",
	"CONFIG_CPU_FREQ_GOV_SCHEDUTIL=y",
	"CONFIG_CPUFREQ_DT=y",
	"CONFIG_ARM_ROCKCHIP_CPUFREQ=y",

	// framebuffer console
	"CONFIG_FB=y",
	"CONFIG_FB_SIMPLE=y",
	"CONFIG_LOGO=y",
	"CONFIG_LOGO_LINUX_CLUT224=y",
}

// Configure produces the kernel .config
type Configure struct {
	noValidation
}

// Name returns the stage name
func (s *Configure) Name() string { return NameConfigure }

// Execute exports the cross-compilation environment for every later
// command, applies the base defconfig and appends ConfigDirectives.
func (s *Configure) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Configuring kernel...", "defconfig", cfg.Defconfig, "arch", cfg.Arch)

	sc.Runner.Setenv("ARCH", cfg.Arch)
	sc.Runner.Setenv("CROSS_COMPILE", cfg.CrossCompile)

	if cfg.Clean {
		sc.Log.Info("Cleaning previous build...")
		try(ctx, sc, makeCmd(cfg, "mrproper"), "Clean failed, continuing anyway")
	}

	if !sc.Runner.Run(ctx, makeCmd(cfg, cfg.Defconfig)).OK() {
		sc.Warn("Failed to use specific defconfig, trying generic...", "defconfig", cfg.Defconfig)
		if err := run(ctx, sc, NameConfigure, makeCmd(cfg, "defconfig"), "failed to configure kernel"); err != nil {
			return err
		}
	}

	sc.Log.Info("Enabling RK3588, Mali GPU and hardware acceleration options...")
	dotConfig := filepath.Join(cfg.KernelDir(), ".config")
	if err := appendDirectives(dotConfig, ConfigDirectives); err != nil {
		return fsError(err, NameConfigure, "failed to append options to %s", dotConfig)
	}

	try(ctx, sc, makeCmd(cfg, "olddefconfig"), "Failed to resolve config dependencies")

	sc.Log.Success("Kernel configured with Mali GPU support")
	return nil
}

func appendDirectives(path string, directives []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.Join(directives, "\n") + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
