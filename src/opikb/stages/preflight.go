package stages

import (
	"context"
	"fmt"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// minFreeBytes is the free space below which a build is likely to fail
const minFreeBytes = 10 << 30

// Preflight checks that the host can run the build at all
type Preflight struct {
	noValidation
	Host HostInfo
}

// Name returns the stage name
func (s *Preflight) Name() string { return NamePreflight }

// Execute runs the host checks. A non-Debian host or a non-root user
// stops the build; an unusual architecture or low disk space only warn.
func (s *Preflight) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	sc.Log.Info("Checking host prerequisites...")

	if !paths.Exists(cfg.Layout.Path(cfg.Layout.DebianVersionFile)) {
		return cerrors.New(NamePreflight, cerrors.CodePrecondition,
			"this builder requires Ubuntu or Debian")
	}

	machine, err := s.Host.Machine()
	switch {
	case err != nil:
		sc.Warn("Cannot determine host architecture", "error", err)
	case machine != "aarch64" && machine != "x86_64":
		sc.Warn("Unsupported host architecture, cross-compilation may not work", "arch", machine)
	default:
		sc.Log.Debug("Host architecture", "arch", machine)
	}

	where := paths.NearestExisting(cfg.BuildDir)
	free, err := s.Host.FreeBytes(where)
	switch {
	case err != nil:
		sc.Warn("Cannot determine free disk space", "path", where, "error", err)
	case free < minFreeBytes:
		sc.Warn("Less than 10GB free space, build may fail", "path", where, "free", humanBytes(free))
	}

	if !s.Host.IsRoot() {
		return cerrors.New(NamePreflight, cerrors.CodePrecondition,
			"this builder must be run as root (use sudo)")
	}

	sc.Log.Success("Host prerequisites satisfied")
	return nil
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
