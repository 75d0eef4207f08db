package stages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/bitswalk/opikb/src/opikb/storage"
	"github.com/ulikunitz/xz"
)

// archiveFiles maps kernel tree files to their archive names
var archiveFiles = []struct {
	src      string
	name     string
	required bool
}{
	{kernelImage, "Image.xz", true},
	{"System.map", "System.map.xz", false},
	{".config", "config.xz", false},
}

// Archive stores xz-compressed build outputs in the configured artifact store
type Archive struct {
	noValidation

	// Open creates the artifact store; storage.New when nil
	Open func(storage.Config) (storage.Backend, error)
}

// Name returns the stage name
func (s *Archive) Name() string { return NameArchive }

// Execute uploads the kernel image, System.map and config under
// <release>/<run id>/.
func (s *Archive) Execute(ctx context.Context, sc *pipeline.Context) error {
	cfg := sc.Config
	open := s.Open
	if open == nil {
		open = storage.New
	}

	backend, err := open(cfg.Archive)
	if err != nil {
		return cerrors.Wrap(err, NameArchive, cerrors.CodeStorage, "cannot open artifact store")
	}
	sc.Log.Info("Archiving build artifacts...", "store", backend.Type(), "location", backend.Location())
	if err := backend.Ping(ctx); err != nil {
		return cerrors.Wrap(err, NameArchive, cerrors.CodeStorage, "artifact store unreachable")
	}

	prefix := path.Join(cfg.Release(), runKey(sc))
	for _, f := range archiveFiles {
		src := filepath.Join(cfg.KernelDir(), f.src)
		key := path.Join(prefix, f.name)

		if err := uploadCompressed(ctx, backend, src, key); err != nil {
			if f.required {
				return cerrors.Wrap(err, NameArchive, cerrors.CodeStorage, "failed to archive "+f.src)
			}
			sc.Warn("Failed to archive "+f.src, "error", err)
			continue
		}
		sc.Artifacts = append(sc.Artifacts, key)
		sc.Log.Debug("Archived artifact", "key", key)
	}

	sc.Log.Success("Build artifacts archived", "prefix", prefix)
	return nil
}

func runKey(sc *pipeline.Context) string {
	if sc.RunID != "" {
		return sc.RunID
	}
	return "unjournaled"
}

// uploadCompressed xz-compresses src in memory and uploads it as key
func uploadCompressed(ctx context.Context, backend storage.Backend, src, key string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return backend.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-xz")
}
