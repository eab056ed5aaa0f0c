//go:build linux || freebsd || netbsd || openbsd

package pmem

import "syscall"

// fdatasync is the Linux/BSD implementation of fdatasync.
func fdatasync(fd uintptr) error {
	return syscall.Fdatasync(int(fd))
}
