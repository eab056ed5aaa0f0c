//go:build darwin || linux || freebsd || netbsd || openbsd

package pmem

import (
	"os"
	"syscall"
)

// openFile opens a file with the specified name and flags, returning a file handle.
func openFile(name string, flags int, perm uint32) (uintptr, error) {
	fd, err := syscall.Open(name, flags, perm)
	if err != nil {
		return 0, err
	}
	return uintptr(fd), nil
}

// newFileFromFd creates a new os.File from a file descriptor handle and a name.
func newFileFromFd(handle uintptr, name string) *os.File {
	return os.NewFile(handle, name)
}
