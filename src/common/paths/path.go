// Package paths provides path helpers shared by the opikb packages.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand expands environment variables, then a leading ~ to the home directory.
func Expand(path string) string {
	return ExpandHome(os.ExpandEnv(path))
}

// ExpandHome expands only the ~ prefix to the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

// Rooted places an absolute system path under root. An empty root leaves
// the path untouched, which is the production case.
func Rooted(root, path string) string {
	if root == "" {
		return path
	}
	return filepath.Join(root, path)
}

// EnsureDir ensures that the parent directory of a file path exists.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// EnsureDirPath ensures that the given directory path exists.
func EnsureDirPath(dirPath string) error {
	return os.MkdirAll(dirPath, 0755)
}

// Exists returns true if the path exists
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir returns true if the path exists and is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsFile returns true if the path exists and is a regular file
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// NearestExisting walks up from path until it finds something that exists.
// Used to stat the filesystem a not-yet-created directory will live on.
func NearestExisting(path string) string {
	path = filepath.Clean(path)
	for {
		if Exists(path) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
