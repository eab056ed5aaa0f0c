//go:build darwin

package pmem

import (
	"golang.org/x/sys/unix"
)

// fdatasync forces the drive to flush its buffers to stable storage.
func fdatasync(fd uintptr) error {
	_, _, errno := unix.Syscall(
		unix.SYS_FCNTL,
		fd,
		unix.F_FULLFSYNC,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
