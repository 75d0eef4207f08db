package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunCommandOrder(t *testing.T) {
	w := newWorld(t)
	report, sc := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	cfg := w.cfg
	blobDir := w.path("tmp/mali_install")
	want := []string{
		"apt update",
		"apt install -y " + strings.Join(Packages, " "),
		"apt build-dep -y linux linux-image-unsigned-6.1.0-test",
		"wget -O " + filepath.Join(blobDir, "mali_csffw.bin") + " " + cfg.Sources.FirmwareURL,
		"wget -O " + filepath.Join(blobDir, "libmali-valhall-g610-g6p0-x11-wayland-gbm.so") + " " + cfg.Sources.DriverURL,
		"wget -O " + filepath.Join(blobDir, "libmali-valhall-g610-g6p0-wayland-gbm-vulkan.so") + " " + cfg.Sources.VulkanDriverURL,
		"git clone --depth 1 --branch libmali https://github.com/tsukumijima/libmali-rockchip.git libmali-src",
		"ldconfig",
		"git clone --depth 1 --branch ubuntu-rockchip-6.8-opi5 https://github.com/Joshua-Riek/linux-rockchip.git linux",
		"git clone --depth 1 https://github.com/Joshua-Riek/ubuntu-rockchip.git ubuntu-rockchip",
		"make rockchip_linux_defconfig",
		"make olddefconfig",
		"make -j8 Image",
		"make -j8 dtbs",
		"make -j8 modules",
		"make modules_install",
		"make dtbs_install",
		"update-initramfs -c -k 6.8.0-opi5plus-mali",
		"u-boot-update",
	}
	assert.Equal(t, want, w.runner.Commands())

	// make runs inside the kernel tree, with the cross environment exported
	for _, c := range w.runner.Calls() {
		if c.Name == "make" {
			assert.Equal(t, cfg.KernelDir(), c.Dir)
		}
	}
	assert.Equal(t, map[string]string{"ARCH": "arm64", "CROSS_COMPILE": "aarch64-linux-gnu-"}, w.runner.Env())
	assert.Equal(t, "noninteractive", w.runner.Calls()[1].Env["DEBIAN_FRONTEND"])
	assert.Equal(t, SourceVendor, sc.KernelSource)

	for _, o := range report.Outcomes {
		switch o.Stage {
		case NameArchive, NameVerify, NameCleanup:
			assert.Equal(t, pipeline.StatusSkipped, o.Status, o.Stage)
		default:
			assert.Equal(t, pipeline.StatusOK, o.Status, o.Stage)
		}
	}

	assert.Equal(t, "blob:mali_csffw.bin", readFile(t, w.path("lib/firmware/mali_csffw.bin")))
	assert.Equal(t, "kernel-image", readFile(t, w.path("boot/vmlinuz-6.8.0-opi5plus-mali")))
	assert.FileExists(t, w.path("boot/System.map-6.8.0-opi5plus-mali"))
	assert.FileExists(t, w.path("boot/config-6.8.0-opi5plus-mali"))
	assert.FileExists(t, w.path("tmp/kernel_build.log"))
}

func TestDriverSymlinks(t *testing.T) {
	w := newWorld(t)
	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	driver := w.cfg.DriverPath()
	for _, link := range DriverLinks {
		target, err := os.Readlink(filepath.Join(w.path("usr/lib"), link))
		require.NoError(t, err, link)
		assert.Equal(t, driver, target, link)
	}

	target, err := os.Readlink(w.path("usr/lib/libvulkan_mali.so"))
	require.NoError(t, err)
	assert.Equal(t, w.cfg.VulkanDriverPath(), target)
}

func TestICDDescriptors(t *testing.T) {
	w := newWorld(t)
	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	icd := w.path("etc/OpenCL/vendors/mali.icd")
	assert.Equal(t, w.cfg.DriverPath()+"\n", readFile(t, icd))
	info, err := os.Stat(icd)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	var manifest VulkanManifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, w.path("usr/share/vulkan/icd.d/mali.json"))), &manifest))
	assert.Equal(t, "1.0.0", manifest.FileFormatVersion)
	assert.Equal(t, "1.2.131", manifest.ICD.APIVersion)
	assert.Equal(t, w.cfg.VulkanDriverPath(), manifest.ICD.LibraryPath)
}

func TestVulkanManifestFallsBackToStandardDriver(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("wget -O "+filepath.Join(w.path("tmp/mali_install"), w.cfg.VulkanDriverName()), 8)

	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)
	assert.Equal(t, pipeline.StatusWarned, outcome(report, NameBlobs).Status)

	var manifest VulkanManifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, w.path("usr/share/vulkan/icd.d/mali.json"))), &manifest))
	assert.Equal(t, w.cfg.DriverPath(), manifest.ICD.LibraryPath)
	assert.NoFileExists(t, w.path("usr/lib/libvulkan_mali.so"))
}

func TestConfigDirectivesAppended(t *testing.T) {
	w := newWorld(t)
	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	content := readFile(t, filepath.Join(w.cfg.KernelDir(), ".config"))
	assert.True(t, strings.HasPrefix(content, "CONFIG_LOCALVERSION=\"\"\n"))
	assert.True(t, strings.HasSuffix(content, strings.Join(ConfigDirectives, "\n")+"\n"))
	assert.Contains(t, content, "CONFIG_MALI_PLATFORM_NAME=\"devicetree\"\n")
	assert.Contains(t, content, "CONFIG_CMA_SIZE_MBYTES=128\n")
}

func TestDisableGPUSkipsGPUStages(t *testing.T) {
	w := newWorld(t)
	w.cfg.SetGPU(false)

	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	assert.False(t, w.runner.Ran("wget"))
	assert.False(t, w.runner.Ran("ldconfig"))
	assert.False(t, w.runner.Ran("git clone --depth 1 --branch libmali"))
	assert.True(t, w.runner.Ran("make -j8 Image"))
	for _, stage := range []string{NameBlobs, NameDrivers, NameOpenCL, NameVulkan} {
		assert.Equal(t, pipeline.StatusSkipped, outcome(report, stage).Status, stage)
	}
	assert.NoFileExists(t, w.path("etc/OpenCL/vendors/mali.icd"))
	assert.NoFileExists(t, w.path("usr/share/vulkan/icd.d/mali.json"))
}

func TestOpenCLWithoutGPUStillSkipped(t *testing.T) {
	w := newWorld(t)
	w.cfg.SetGPU(false)
	w.cfg.OpenCL = true

	plan := New(w.host).Plan(w.cfg)
	for _, p := range plan {
		if p.Stage == NameOpenCL {
			assert.False(t, p.Run)
			assert.Equal(t, "GPU support disabled", p.Reason)
		}
	}
}

func TestFirmwareDownloadFailureAborts(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("wget -O "+filepath.Join(w.path("tmp/mali_install"), "mali_csffw.bin"), 4)

	report, _ := w.run()
	require.False(t, report.Succeeded())
	assert.Equal(t, NameBlobs, report.FailedStage)
	assert.ErrorIs(t, report.Err, cerrors.ErrDownload)

	cmds := w.runner.Commands()
	assert.True(t, strings.HasPrefix(cmds[len(cmds)-1], "wget -O"))
	assert.False(t, w.runner.Ran("ldconfig"))
	assert.False(t, w.runner.Ran("make"))
	assert.False(t, w.runner.Ran("git clone --depth 1 --branch ubuntu-rockchip-6.8-opi5"))
	assert.NoFileExists(t, w.path("lib/firmware/mali_csffw.bin"))
	assert.Contains(t, w.logBuf.String(), "failed to download Mali firmware")
}

func TestNonFatalInstallFailures(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("make dtbs_install", 2)
	w.runner.Fail("update-initramfs", 1)

	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)

	install := outcome(report, NameInstall)
	assert.Equal(t, pipeline.StatusWarned, install.Status)
	assert.Equal(t, 2, install.Warnings)
	assert.True(t, w.runner.Ran("u-boot-update"))

	out := w.logBuf.String()
	assert.Contains(t, out, "Failed to install device tree blobs")
	assert.Contains(t, out, "Failed to create initramfs")
}

func TestModulesInstallFailureIsFatal(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("make modules_install", 2)

	report, _ := w.run()
	require.False(t, report.Succeeded())
	assert.Equal(t, NameInstall, report.FailedStage)
	assert.ErrorIs(t, report.Err, cerrors.ErrCommandFailed)
	assert.False(t, w.runner.Ran("make dtbs_install"))
}

func TestCompileFailureStopsAtFirstTarget(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("make -j8 dtbs", 2)

	report, _ := w.run()
	require.False(t, report.Succeeded())
	assert.Equal(t, NameCompile, report.FailedStage)
	assert.False(t, w.runner.Ran("make -j8 modules"))
	assert.False(t, w.runner.Ran("make modules_install"))
}

func TestSourceFallsBackToMainline(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("git clone --depth 1 --branch ubuntu-rockchip-6.8-opi5", 128)

	report, sc := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)
	assert.Equal(t, SourceMainline, sc.KernelSource)
	assert.True(t, w.runner.Ran("git clone --depth 1 --branch v6.8.0 https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git linux"))
	assert.Equal(t, pipeline.StatusWarned, outcome(report, NameSource).Status)
}

func TestSourceBothClonesFail(t *testing.T) {
	w := newWorld(t)
	w.runner.Fail("git clone --depth 1 --branch ubuntu-rockchip-6.8-opi5", 128)
	w.runner.Fail("git clone --depth 1 --branch v6.8.0", 128)

	report, _ := w.run()
	require.False(t, report.Succeeded())
	assert.Equal(t, NameSource, report.FailedStage)
	assert.ErrorIs(t, report.Err, cerrors.ErrDownload)
	assert.False(t, w.runner.Ran("make"))
}

func TestSourceReusesExistingTree(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, os.MkdirAll(filepath.Join(w.cfg.KernelDir(), ".git"), 0755))
	writeFile(t, filepath.Join(w.cfg.KernelDir(), "arch", "arm64", "boot", "Image"), "old")

	report, sc := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)
	assert.Equal(t, SourceExisting, sc.KernelSource)
	assert.False(t, w.runner.Ran("git clone --depth 1 --branch ubuntu-rockchip-6.8-opi5"))
}

func TestConfigureFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		clean    bool
		fail     []string
		wantErr  bool
		wantCmds []string
	}{
		{
			name:     "clean build",
			clean:    true,
			wantCmds: []string{"make mrproper", "make rockchip_linux_defconfig", "make olddefconfig"},
		},
		{
			name:     "generic defconfig",
			fail:     []string{"make rockchip_linux_defconfig"},
			wantCmds: []string{"make rockchip_linux_defconfig", "make defconfig", "make olddefconfig"},
		},
		{
			name:     "no defconfig works",
			fail:     []string{"make rockchip_linux_defconfig", "make defconfig"},
			wantErr:  true,
			wantCmds: []string{"make rockchip_linux_defconfig", "make defconfig"},
		},
		{
			name:     "olddefconfig only warns",
			fail:     []string{"make olddefconfig"},
			wantCmds: []string{"make rockchip_linux_defconfig", "make olddefconfig"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			w.cfg.Clean = tt.clean
			for _, f := range tt.fail {
				w.runner.Fail(f, 2)
			}
			require.NoError(t, os.MkdirAll(w.cfg.KernelDir(), 0755))

			err := (&Configure{}).Execute(context.Background(), w.context())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCmds, w.runner.Commands())
		})
	}
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name     string
		host     StaticHost
		debian   bool
		wantErr  bool
		warnings int
		logged   string
	}{
		{"ok", StaticHost{Root: true, Arch: "aarch64", Free: 64 << 30}, true, false, 0, "Host prerequisites satisfied"},
		{"not debian", StaticHost{Root: true, Arch: "x86_64", Free: 64 << 30}, false, true, 0, ""},
		{"not root", StaticHost{Root: false, Arch: "x86_64", Free: 64 << 30}, true, true, 0, ""},
		{"odd arch", StaticHost{Root: true, Arch: "riscv64", Free: 64 << 30}, true, false, 1, "Unsupported host architecture"},
		{"low disk", StaticHost{Root: true, Arch: "x86_64", Free: 2 << 30}, true, false, 1, "Less than 10GB free space"},
		{"no facts", StaticHost{Root: true, Err: fmt.Errorf("uname failed")}, true, false, 2, "Cannot determine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			if !tt.debian {
				require.NoError(t, os.Remove(w.path("etc/debian_version")))
			}

			p := pipeline.New(pipeline.Step{Stage: &Preflight{Host: tt.host}, Policy: pipeline.Fatal})
			report := p.Run(context.Background(), w.context())

			if tt.wantErr {
				require.False(t, report.Succeeded())
				assert.ErrorIs(t, report.Err, cerrors.ErrPrecondition)
				return
			}
			require.True(t, report.Succeeded(), "%v", report.Err)
			assert.Equal(t, tt.warnings, report.Outcomes[0].Warnings)
			assert.Contains(t, w.logBuf.String(), tt.logged)
		})
	}
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512B", humanBytes(512))
	assert.Equal(t, "2.0GiB", humanBytes(2<<30))
	assert.Equal(t, "1.5KiB", humanBytes(1536))
}

func TestCleanupRemovesScratchDirs(t *testing.T) {
	w := newWorld(t)
	w.cfg.Cleanup = true

	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)
	assert.NoDirExists(t, w.cfg.BuildDir)
	assert.NoDirExists(t, w.cfg.BlobDir())
	// installed files survive
	assert.FileExists(t, w.path("boot/vmlinuz-6.8.0-opi5plus-mali"))
}

func TestNoInstallSkipsInstallAndVerify(t *testing.T) {
	w := newWorld(t)
	w.cfg.NoInstall = true
	w.cfg.VerifyGPU = true

	report, _ := w.run()
	require.True(t, report.Succeeded(), "%v", report.Err)
	assert.Equal(t, pipeline.StatusSkipped, outcome(report, NameInstall).Status)
	assert.Equal(t, pipeline.StatusSkipped, outcome(report, NameVerify).Status)
	assert.False(t, w.runner.Ran("make modules_install"))
	assert.False(t, w.runner.Ran("clinfo"))
}
