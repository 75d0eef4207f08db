package stages

import (
	"context"
	"path/filepath"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Kernel tree origins recorded on the pipeline context
const (
	SourceVendor   = "vendor"
	SourceMainline = "mainline"
	SourceExisting = "existing"
)

// patchesDir is where the board patch repository is cloned
const patchesDir = "ubuntu-rockchip"

// Source fetches the kernel tree
type Source struct {
	noValidation
}

// Name returns the stage name
func (s *Source) Name() string { return NameSource }

// Execute clones the vendor kernel, falling back to the mainline tag for
// the configured version, then fetches the board patch repository.
func (s *Source) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Downloading kernel source...", "version", cfg.KernelVersion)

	switch {
	case paths.IsDir(filepath.Join(cfg.KernelDir(), ".git")):
		sc.Log.Info("Reusing existing kernel tree", "dir", cfg.KernelDir())
		sc.KernelSource = SourceExisting

	default:
		vendor := executor.Command("git", "clone", "--depth", "1", "--branch", cfg.Sources.KernelBranch,
			cfg.Sources.KernelRepoURL, "linux").In(cfg.BuildDir)
		if sc.Runner.Run(ctx, vendor).OK() {
			sc.KernelSource = SourceVendor
			break
		}

		sc.Warn("Failed to clone Orange Pi kernel, trying mainline...", "branch", cfg.Sources.KernelBranch)
		mainline := executor.Command("git", "clone", "--depth", "1", "--branch", "v"+cfg.KernelVersion,
			cfg.Sources.MainlineRepoURL, "linux").In(cfg.BuildDir)
		if err := sc.Runner.Run(ctx, mainline).Failure(); err != nil {
			return cerrors.Wrap(err, NameSource, cerrors.CodeDownload, "failed to download kernel source")
		}
		sc.KernelSource = SourceMainline
	}

	if !paths.IsDir(filepath.Join(cfg.BuildDir, patchesDir)) {
		sc.Log.Info("Downloading Orange Pi 5 Plus patches...")
		patches := executor.Command("git", "clone", "--depth", "1", cfg.Sources.PatchesRepoURL, patchesDir).In(cfg.BuildDir)
		try(ctx, sc, patches, "Failed to download patches, continuing without them")
	}

	sc.Log.Success("Kernel source ready", "origin", sc.KernelSource)
	return nil
}
