// Package config holds the build configuration record and resolves it from
// built-in defaults, the config file, the environment and the command line.
package config

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/storage"
)

// TargetArch is the only architecture this tool builds for
const TargetArch = "arm64"

// BoardSuffix tags the installed kernel release
const BoardSuffix = "opi5plus-mali"

// Config is the build configuration. It is fully resolved before the first
// stage runs and read-only afterwards.
type Config struct {
	KernelVersion string `json:"kernel_version" yaml:"kernel_version"`
	BuildDir      string `json:"build_dir" yaml:"build_dir"`
	CrossCompile  string `json:"cross_compile" yaml:"cross_compile"`
	Arch          string `json:"arch" yaml:"arch"`
	Defconfig     string `json:"defconfig" yaml:"defconfig"`
	Jobs          int    `json:"jobs" yaml:"jobs"`

	Clean     bool `json:"clean" yaml:"clean"`
	GPU       bool `json:"gpu" yaml:"gpu"`
	OpenCL    bool `json:"opencl" yaml:"opencl"`
	Vulkan    bool `json:"vulkan" yaml:"vulkan"`
	Verbose   bool `json:"verbose" yaml:"verbose"`
	NoInstall bool `json:"no_install" yaml:"no_install"`
	Cleanup   bool `json:"cleanup" yaml:"cleanup"`
	VerifyGPU bool `json:"verify_gpu" yaml:"verify_gpu"`

	Layout  Layout         `json:"layout" yaml:"layout"`
	Sources Sources        `json:"sources" yaml:"sources"`
	Journal JournalConfig  `json:"journal" yaml:"journal"`
	Archive storage.Config `json:"-" yaml:"-"`
}

// Layout names the host directories the pipeline writes to. Root, when
// set, is prepended to every other entry.
type Layout struct {
	Root              string `json:"root,omitempty" yaml:"root,omitempty"`
	FirmwareDir       string `json:"firmware_dir" yaml:"firmware_dir"`
	LibDir            string `json:"lib_dir" yaml:"lib_dir"`
	OpenCLVendorsDir  string `json:"opencl_vendors_dir" yaml:"opencl_vendors_dir"`
	VulkanICDDir      string `json:"vulkan_icd_dir" yaml:"vulkan_icd_dir"`
	BootDir           string `json:"boot_dir" yaml:"boot_dir"`
	BlobDir           string `json:"blob_dir" yaml:"blob_dir"`
	LogFile           string `json:"log_file" yaml:"log_file"`
	DebianVersionFile string `json:"debian_version_file" yaml:"debian_version_file"`
}

// Path resolves a layout entry against Root
func (l Layout) Path(p string) string {
	return paths.Rooted(l.Root, p)
}

// Sources lists where the kernel tree and GPU blobs come from
type Sources struct {
	FirmwareURL     string `json:"firmware_url" yaml:"firmware_url"`
	DriverURL       string `json:"driver_url" yaml:"driver_url"`
	VulkanDriverURL string `json:"vulkan_driver_url" yaml:"vulkan_driver_url"`
	AuxRepoURL      string `json:"aux_repo_url" yaml:"aux_repo_url"`
	AuxRepoBranch   string `json:"aux_repo_branch" yaml:"aux_repo_branch"`
	KernelRepoURL   string `json:"kernel_repo_url" yaml:"kernel_repo_url"`
	KernelBranch    string `json:"kernel_branch" yaml:"kernel_branch"`
	MainlineRepoURL string `json:"mainline_repo_url" yaml:"mainline_repo_url"`
	PatchesRepoURL  string `json:"patches_repo_url" yaml:"patches_repo_url"`
}

// JournalConfig controls the run journal
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// BlobName is the on-disk name of a blob fetched from url, with any .xz
// suffix removed since compressed blobs are unpacked after download.
func BlobName(url string) string {
	return strings.TrimSuffix(path.Base(url), ".xz")
}

// SetGPU toggles GPU support. Turning it off also turns off OpenCL and
// Vulkan; turning it on leaves them as they are.
func (c *Config) SetGPU(on bool) {
	c.GPU = on
	if !on {
		c.OpenCL = false
		c.Vulkan = false
	}
}

// Release is the installed kernel release string
func (c *Config) Release() string {
	return c.KernelVersion + "-" + BoardSuffix
}

// KernelDir is the kernel source tree inside the build directory
func (c *Config) KernelDir() string {
	return filepath.Join(c.BuildDir, "linux")
}

// BlobDir is the scratch directory blobs are downloaded to
func (c *Config) BlobDir() string {
	return c.Layout.Path(c.Layout.BlobDir)
}

// FirmwareName is the file name of the GPU firmware
func (c *Config) FirmwareName() string {
	return BlobName(c.Sources.FirmwareURL)
}

// DriverName is the file name of the primary userspace driver
func (c *Config) DriverName() string {
	return BlobName(c.Sources.DriverURL)
}

// VulkanDriverName is the file name of the Vulkan-capable driver variant
func (c *Config) VulkanDriverName() string {
	return BlobName(c.Sources.VulkanDriverURL)
}

// FirmwarePath is where the firmware is installed
func (c *Config) FirmwarePath() string {
	return filepath.Join(c.Layout.Path(c.Layout.FirmwareDir), c.FirmwareName())
}

// DriverPath is where the primary driver is installed
func (c *Config) DriverPath() string {
	return filepath.Join(c.Layout.Path(c.Layout.LibDir), c.DriverName())
}

// VulkanDriverPath is where the Vulkan driver variant is installed
func (c *Config) VulkanDriverPath() string {
	return filepath.Join(c.Layout.Path(c.Layout.LibDir), c.VulkanDriverName())
}

// OpenCLICDPath is the OpenCL vendor registration file
func (c *Config) OpenCLICDPath() string {
	return filepath.Join(c.Layout.Path(c.Layout.OpenCLVendorsDir), "mali.icd")
}

// VulkanICDPath is the Vulkan loader manifest
func (c *Config) VulkanICDPath() string {
	return filepath.Join(c.Layout.Path(c.Layout.VulkanICDDir), "mali.json")
}

// BootPath returns name inside the boot directory
func (c *Config) BootPath(name string) string {
	return filepath.Join(c.Layout.Path(c.Layout.BootDir), name)
}

// LogFile is the resolved log file path
func (c *Config) LogFile() string {
	return c.Layout.Path(c.Layout.LogFile)
}
