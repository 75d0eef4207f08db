package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/google/renameio/v2"
)

// Vulkan loader manifest constants
const (
	vulkanManifestVersion = "1.0.0"
	vulkanAPIVersion      = "1.2.131"
)

// OpenCL registers the Mali driver with the OpenCL ICD loader
type OpenCL struct {
	noValidation
}

// Name returns the stage name
func (s *OpenCL) Name() string { return NameOpenCL }

// Execute writes the vendor file naming the driver library
func (s *OpenCL) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Setting up OpenCL support...")

	if err := writeDescriptor(cfg.OpenCLICDPath(), []byte(cfg.DriverPath()+"\n")); err != nil {
		return fsError(err, NameOpenCL, "failed to write OpenCL ICD file %s", cfg.OpenCLICDPath())
	}

	sc.Log.Success("OpenCL support configured", "icd", cfg.OpenCLICDPath())
	return nil
}

// VulkanManifest is the Vulkan loader ICD manifest
type VulkanManifest struct {
	FileFormatVersion string    `json:"file_format_version"`
	ICD               VulkanICD `json:"ICD"`
}

// VulkanICD points the loader at a driver library
type VulkanICD struct {
	LibraryPath string `json:"library_path"`
	APIVersion  string `json:"api_version"`
}

// Vulkan registers the Mali driver with the Vulkan loader
type Vulkan struct {
	noValidation
}

// Name returns the stage name
func (s *Vulkan) Name() string { return NameVulkan }

// Execute writes the loader manifest, preferring the Vulkan driver variant
// when it is installed.
func (s *Vulkan) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Setting up Vulkan support...")

	library := cfg.DriverPath()
	if paths.IsFile(cfg.VulkanDriverPath()) {
		library = cfg.VulkanDriverPath()
	}

	manifest := VulkanManifest{
		FileFormatVersion: vulkanManifestVersion,
		ICD: VulkanICD{
			LibraryPath: library,
			APIVersion:  vulkanAPIVersion,
		},
	}
	data, err := json.MarshalIndent(manifest, "", "    ")
	if err != nil {
		return fsError(err, NameVulkan, "failed to encode Vulkan ICD manifest")
	}

	if err := writeDescriptor(cfg.VulkanICDPath(), append(data, '\n')); err != nil {
		return fsError(err, NameVulkan, "failed to write Vulkan ICD file %s", cfg.VulkanICDPath())
	}

	sc.Log.Success("Vulkan support configured", "icd", cfg.VulkanICDPath(), "library", library)
	return nil
}

// writeDescriptor atomically replaces a loader registration file, world
// readable so unprivileged processes can load the driver.
func writeDescriptor(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return os.Chmod(path, 0644)
}
