package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/google/renameio/v2"
)

// LocalConfig points the archive at a directory
type LocalConfig struct {
	BasePath string
}

// LocalBackend keeps artifacts as plain files below root
type LocalBackend struct {
	root string
}

// NewLocal creates the root directory if needed
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local artifact store needs a base path")
	}
	root := filepath.Clean(paths.Expand(cfg.BasePath))
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifact directory %s: %w", root, err)
	}
	return &LocalBackend{root: root}, nil
}

// fullPath maps key below root. ".." segments cannot escape it.
func (b *LocalBackend) fullPath(key string) string {
	rel := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	return filepath.Join(b.root, rel)
}

// Upload replaces the file atomically, so a reader sees either the old
// artifact or the complete new one.
func (b *LocalBackend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dst := b.fullPath(key)
	if err := paths.EnsureDir(dst); err != nil {
		return fmt.Errorf("cannot prepare %s: %w", key, err)
	}

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("cannot stage %s: %w", key, err)
	}
	defer pending.Cleanup()

	n, err := io.Copy(pending, reader)
	switch {
	case err != nil:
		return fmt.Errorf("cannot write %s: %w", key, err)
	case size > 0 && n != size:
		return fmt.Errorf("short upload of %s: got %d of %d bytes", key, n, size)
	}
	return pending.CloseAtomicallyReplace()
}

// Exists stats the artifact file
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("cannot stat %s: %w", key, err)
	}
}

// List walks root and keeps the files whose slash-separated key starts
// with prefix. Unreadable entries are skipped.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	prefix = strings.TrimPrefix(prefix, "/")

	var found []ObjectInfo
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			found = append(found, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		}
		return nil
	}
	if err := filepath.WalkDir(b.root, walk); err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", b.root, err)
	}
	return found, nil
}

// Delete removes the artifact, then prunes the directories it leaves empty.
// Deleting a missing artifact is not an error.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	target := b.fullPath(key)
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot delete %s: %w", key, err)
	}

	for dir := filepath.Dir(target); strings.HasPrefix(dir, b.root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		// Remove fails on a non-empty directory, which ends the pruning
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Ping checks that root is still there
func (b *LocalBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("artifact directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact path %s is not a directory", b.root)
	}
	return nil
}

// Type returns "local"
func (b *LocalBackend) Type() string {
	return "local"
}

// Location returns the root directory
func (b *LocalBackend) Location() string {
	return b.root
}
