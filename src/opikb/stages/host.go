package stages

import (
	"golang.org/x/sys/unix"
)

// HostInfo exposes the facts preflight checks rely on
type HostInfo interface {
	// IsRoot reports whether the effective user is root
	IsRoot() bool
	// Machine is the hardware name, as printed by uname -m
	Machine() (string, error)
	// KernelRelease is the running kernel release, as printed by uname -r
	KernelRelease() (string, error)
	// FreeBytes is the space available to unprivileged users on the
	// filesystem holding path
	FreeBytes(path string) (uint64, error)
}

// SystemHost reads host facts from the running system
type SystemHost struct{}

// IsRoot reports whether the effective user is root
func (SystemHost) IsRoot() bool {
	return unix.Geteuid() == 0
}

// Machine returns the hardware name
func (SystemHost) Machine() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Machine[:]), nil
}

// KernelRelease returns the running kernel release
func (SystemHost) KernelRelease() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Release[:]), nil
}

// FreeBytes returns the available space on the filesystem holding path
func (SystemHost) FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// StaticHost is a HostInfo with fixed answers
type StaticHost struct {
	Root    bool
	Arch    string
	Release string
	Free    uint64
	Err     error
}

// IsRoot returns the configured answer
func (h StaticHost) IsRoot() bool { return h.Root }

// Machine returns the configured answer
func (h StaticHost) Machine() (string, error) { return h.Arch, h.Err }

// KernelRelease returns the configured answer
func (h StaticHost) KernelRelease() (string, error) { return h.Release, h.Err }

// FreeBytes returns the configured answer
func (h StaticHost) FreeBytes(string) (uint64, error) { return h.Free, h.Err }
