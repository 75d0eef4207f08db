package config

import (
	"runtime"

	"github.com/bitswalk/opikb/src/common/cli"
	"github.com/bitswalk/opikb/src/opikb/storage"
	"github.com/spf13/viper"
)

// numCPU is swapped in tests
var numCPU = runtime.NumCPU

// Built-in defaults
const (
	DefaultKernelVersion = "6.8.0"
	DefaultBuildDir      = "/tmp/kernel_build"
	DefaultCrossCompile  = "aarch64-linux-gnu-"
	DefaultDefconfig     = "rockchip_linux_defconfig"
	DefaultJournalPath   = "/var/lib/opikb/journal.db"

	maliMirror = "https://github.com/JeffyCN/mirrors/raw/libmali"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		KernelVersion: DefaultKernelVersion,
		BuildDir:      DefaultBuildDir,
		CrossCompile:  DefaultCrossCompile,
		Arch:          TargetArch,
		Defconfig:     DefaultDefconfig,
		Jobs:          numCPU(),
		GPU:           true,
		OpenCL:        true,
		Vulkan:        true,
		Layout: Layout{
			FirmwareDir:       "/lib/firmware",
			LibDir:            "/usr/lib",
			OpenCLVendorsDir:  "/etc/OpenCL/vendors",
			VulkanICDDir:      "/usr/share/vulkan/icd.d",
			BootDir:           "/boot",
			BlobDir:           "/tmp/mali_install",
			LogFile:           "/tmp/kernel_build.log",
			DebianVersionFile: "/etc/debian_version",
		},
		Sources: Sources{
			FirmwareURL:     maliMirror + "/firmware/g610/mali_csffw.bin",
			DriverURL:       maliMirror + "/lib/aarch64-linux-gnu/libmali-valhall-g610-g6p0-x11-wayland-gbm.so",
			VulkanDriverURL: maliMirror + "/lib/aarch64-linux-gnu/libmali-valhall-g610-g6p0-wayland-gbm-vulkan.so",
			AuxRepoURL:      "https://github.com/tsukumijima/libmali-rockchip.git",
			AuxRepoBranch:   "libmali",
			KernelRepoURL:   "https://github.com/Joshua-Riek/linux-rockchip.git",
			KernelBranch:    "ubuntu-rockchip-6.8-opi5",
			MainlineRepoURL: "https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git",
			PatchesRepoURL:  "https://github.com/Joshua-Riek/ubuntu-rockchip.git",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    DefaultJournalPath,
		},
	}
}

// RegisterDefaults seeds v with the built-in configuration so config files
// and environment variables only need to name what they change.
func RegisterDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", "info")

	v.SetDefault("kernel.version", d.KernelVersion)
	v.SetDefault("kernel.defconfig", d.Defconfig)
	v.SetDefault("kernel.cross_compile", d.CrossCompile)

	v.SetDefault("build.dir", d.BuildDir)
	v.SetDefault("build.jobs", 0)
	v.SetDefault("build.clean", false)
	v.SetDefault("build.verbose", false)
	v.SetDefault("build.no_install", false)
	v.SetDefault("build.cleanup", false)

	v.SetDefault("gpu.enabled", d.GPU)
	v.SetDefault("gpu.opencl", d.OpenCL)
	v.SetDefault("gpu.vulkan", d.Vulkan)
	v.SetDefault("gpu.verify", false)

	v.SetDefault("layout.root", "")
	v.SetDefault("layout.firmware_dir", d.Layout.FirmwareDir)
	v.SetDefault("layout.lib_dir", d.Layout.LibDir)
	v.SetDefault("layout.opencl_vendors_dir", d.Layout.OpenCLVendorsDir)
	v.SetDefault("layout.vulkan_icd_dir", d.Layout.VulkanICDDir)
	v.SetDefault("layout.boot_dir", d.Layout.BootDir)
	v.SetDefault("layout.blob_dir", d.Layout.BlobDir)
	v.SetDefault("layout.log_file", d.Layout.LogFile)
	v.SetDefault("layout.debian_version_file", d.Layout.DebianVersionFile)

	v.SetDefault("sources.firmware_url", d.Sources.FirmwareURL)
	v.SetDefault("sources.driver_url", d.Sources.DriverURL)
	v.SetDefault("sources.vulkan_driver_url", d.Sources.VulkanDriverURL)
	v.SetDefault("sources.aux_repo_url", d.Sources.AuxRepoURL)
	v.SetDefault("sources.aux_repo_branch", d.Sources.AuxRepoBranch)
	v.SetDefault("sources.kernel_repo_url", d.Sources.KernelRepoURL)
	v.SetDefault("sources.kernel_branch", d.Sources.KernelBranch)
	v.SetDefault("sources.mainline_repo_url", d.Sources.MainlineRepoURL)
	v.SetDefault("sources.patches_repo_url", d.Sources.PatchesRepoURL)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("archive.type", "")
	v.SetDefault("archive.local.path", "/var/lib/opikb/artifacts")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.path_style", true)
}

// FromViper builds the configuration from v. Keys missing from v fall back
// to the registered defaults.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		KernelVersion: v.GetString("kernel.version"),
		BuildDir:      cli.GetExpandedString(v, "build.dir"),
		CrossCompile:  v.GetString("kernel.cross_compile"),
		Arch:          TargetArch,
		Defconfig:     v.GetString("kernel.defconfig"),
		Jobs:          v.GetInt("build.jobs"),
		Clean:         v.GetBool("build.clean"),
		Verbose:       v.GetBool("build.verbose"),
		NoInstall:     v.GetBool("build.no_install"),
		Cleanup:       v.GetBool("build.cleanup"),
		OpenCL:        v.GetBool("gpu.opencl"),
		Vulkan:        v.GetBool("gpu.vulkan"),
		VerifyGPU:     v.GetBool("gpu.verify"),
		Layout: Layout{
			Root:              cli.GetExpandedString(v, "layout.root"),
			FirmwareDir:       v.GetString("layout.firmware_dir"),
			LibDir:            v.GetString("layout.lib_dir"),
			OpenCLVendorsDir:  v.GetString("layout.opencl_vendors_dir"),
			VulkanICDDir:      v.GetString("layout.vulkan_icd_dir"),
			BootDir:           v.GetString("layout.boot_dir"),
			BlobDir:           v.GetString("layout.blob_dir"),
			LogFile:           v.GetString("layout.log_file"),
			DebianVersionFile: v.GetString("layout.debian_version_file"),
		},
		Sources: Sources{
			FirmwareURL:     v.GetString("sources.firmware_url"),
			DriverURL:       v.GetString("sources.driver_url"),
			VulkanDriverURL: v.GetString("sources.vulkan_driver_url"),
			AuxRepoURL:      v.GetString("sources.aux_repo_url"),
			AuxRepoBranch:   v.GetString("sources.aux_repo_branch"),
			KernelRepoURL:   v.GetString("sources.kernel_repo_url"),
			KernelBranch:    v.GetString("sources.kernel_branch"),
			MainlineRepoURL: v.GetString("sources.mainline_repo_url"),
			PatchesRepoURL:  v.GetString("sources.patches_repo_url"),
		},
		Journal: JournalConfig{
			Enabled: v.GetBool("journal.enabled"),
			Path:    cli.GetExpandedString(v, "journal.path"),
		},
		Archive: storage.Config{
			Type: v.GetString("archive.type"),
			Local: storage.LocalConfig{
				BasePath: cli.GetExpandedString(v, "archive.local.path"),
			},
			S3: storage.S3Config{
				Endpoint:        v.GetString("archive.s3.endpoint"),
				Region:          v.GetString("archive.s3.region"),
				Bucket:          v.GetString("archive.s3.bucket"),
				Prefix:          v.GetString("archive.s3.prefix"),
				AccessKeyID:     v.GetString("archive.s3.access_key_id"),
				SecretAccessKey: v.GetString("archive.s3.secret_access_key"),
				UsePathStyle:    v.GetBool("archive.s3.path_style"),
			},
		},
	}

	// a config file that turns GPU off takes OpenCL and Vulkan with it
	cfg.SetGPU(v.GetBool("gpu.enabled"))
	cfg.normalize()
	return cfg
}

// normalize enforces the record's invariants after every mutation source
// has been applied.
func (c *Config) normalize() {
	if c.Jobs <= 0 {
		c.Jobs = numCPU()
	}
	if c.Jobs <= 0 {
		c.Jobs = 1
	}
	if c.KernelVersion == "" {
		c.KernelVersion = DefaultKernelVersion
	}
	c.Arch = TargetArch
}
