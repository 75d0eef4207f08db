package stages

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Cleanup removes the scratch directories
type Cleanup struct {
	noValidation
}

// Name returns the stage name
func (s *Cleanup) Name() string { return NameCleanup }

// Execute removes the build and blob directories
func (s *Cleanup) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Cleaning up build files...")

	for _, dir := range []string{cfg.BuildDir, cfg.BlobDir()} {
		if dir == "" || filepath.Clean(dir) == "/" {
			sc.Warn("Refusing to remove directory", "dir", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			sc.Warn("Failed to remove directory", "dir", dir, "error", err)
		}
	}

	sc.Log.Success("Cleanup completed")
	return nil
}
