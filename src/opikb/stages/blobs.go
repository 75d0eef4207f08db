package stages

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/google/renameio/v2"
	"github.com/ulikunitz/xz"
)

// auxRepoDir is where the libmali packaging repository is cloned
const auxRepoDir = "libmali-src"

// Blobs downloads the Mali firmware and userspace drivers
type Blobs struct {
	noValidation
}

// Name returns the stage name
func (s *Blobs) Name() string { return NameBlobs }

// Execute fetches the firmware and primary driver (both required), then the
// Vulkan driver variant and the libmali packaging repository if possible.
func (s *Blobs) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	dir := cfg.BlobDir()
	sc.Log.Info("Downloading Mali G610 GPU blobs...", "dir", dir)

	if err := paths.EnsureDirPath(dir); err != nil {
		return fsError(err, NameBlobs, "cannot create blob directory %s", dir)
	}

	sc.Log.Info("Downloading Mali CSF firmware...")
	if err := fetch(ctx, sc, dir, cfg.Sources.FirmwareURL); err != nil {
		return cerrors.Wrap(err, NameBlobs, cerrors.CodeDownload, "failed to download Mali firmware")
	}

	sc.Log.Info("Downloading Mali userspace driver...")
	if err := fetch(ctx, sc, dir, cfg.Sources.DriverURL); err != nil {
		return cerrors.Wrap(err, NameBlobs, cerrors.CodeDownload, "failed to download Mali driver")
	}

	if cfg.Vulkan {
		sc.Log.Info("Downloading Mali Vulkan driver...")
		if err := fetch(ctx, sc, dir, cfg.Sources.VulkanDriverURL); err != nil {
			sc.Warn("Failed to download Vulkan driver, continuing without it", "error", err)
		}
	}

	clone := executor.Command("git", "clone", "--depth", "1", "--branch", cfg.Sources.AuxRepoBranch,
		cfg.Sources.AuxRepoURL, auxRepoDir).In(dir)
	try(ctx, sc, clone, "Failed to clone libmali repository, using downloaded blobs only")

	sc.Log.Success("Mali GPU blobs downloaded")
	return nil
}

// fetch downloads url into dir, unpacking it when the name ends in .xz
func fetch(ctx context.Context, sc *pipeline.Context, dir, url string) error {
	name := path.Base(url)
	dest := filepath.Join(dir, name)

	res := sc.Runner.Run(ctx, executor.Command("wget", "-O", dest, url).In(dir))
	if err := res.Failure(); err != nil {
		return err
	}

	if !strings.HasSuffix(name, ".xz") {
		return nil
	}
	if err := unxz(dest, strings.TrimSuffix(dest, ".xz")); err != nil {
		return fmt.Errorf("failed to decompress %s: %w", name, err)
	}
	return os.Remove(dest)
}

// unxz decompresses src into dst atomically
func unxz(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to create xz reader: %w", err)
	}

	t, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := t.ReadFrom(r); err != nil {
		return err
	}
	if err := t.Chmod(0644); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
