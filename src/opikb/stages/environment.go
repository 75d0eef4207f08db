package stages

import (
	"context"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/executor"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Environment creates the build directory, opens the log file and
// refreshes the package index.
type Environment struct {
	noValidation
}

// Name returns the stage name
func (s *Environment) Name() string { return NameEnvironment }

// Execute prepares the build environment
func (s *Environment) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Setting up build environment...", "build_dir", cfg.BuildDir)

	if err := paths.EnsureDirPath(cfg.BuildDir); err != nil {
		return fsError(err, NameEnvironment, "cannot create build directory %s", cfg.BuildDir)
	}

	if !sc.Log.HasFile() {
		if err := openLog(sc); err != nil {
			sc.Warn("Could not open log file, logging to console only", "path", cfg.LogFile(), "error", err)
		}
	}

	sc.Log.Info("Updating package lists...")
	if err := run(ctx, sc, NameEnvironment, executor.Command("apt", "update"), "failed to update package lists"); err != nil {
		return err
	}

	sc.Log.Success("Build environment ready")
	return nil
}

func openLog(sc *pipeline.Context) error {
	if err := paths.EnsureDir(sc.Config.LogFile()); err != nil {
		return err
	}
	return sc.Log.AttachFile(sc.Config.LogFile())
}
