//go:build windows

package pmem

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

func openFile(name string, flags int, perm uint32) (uintptr, error) {
	var access uint32
	var creation uint32
	var windowsFlags uint32 = windows.FILE_FLAG_RANDOM_ACCESS

	switch flags & (windows.O_RDONLY | windows.O_WRONLY | windows.O_RDWR) {
	case windows.O_RDONLY:
		access = syscall.GENERIC_READ
	case windows.O_WRONLY:
		access = syscall.GENERIC_WRITE
	case windows.O_RDWR:
		access = syscall.GENERIC_READ | syscall.GENERIC_WRITE
	default:
		access = syscall.GENERIC_READ
	}

	hasCreate := flags&windows.O_CREAT != 0
	hasTrunc := flags&windows.O_TRUNC != 0
	hasExcl := flags&windows.O_EXCL != 0

	if hasCreate {
		if hasExcl {
			creation = syscall.CREATE_NEW
		} else if hasTrunc {
			creation = syscall.CREATE_ALWAYS
		} else {
			creation = syscall.OPEN_ALWAYS
		}
	} else {
		if hasTrunc {
			creation = syscall.TRUNCATE_EXISTING
		} else {
			creation = syscall.OPEN_EXISTING
		}
	}

	namePtr, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}

	handle, err := syscall.CreateFile(
		namePtr,
		access,
		syscall.FILE_SHARE_READ|syscall.FILE_SHARE_WRITE|syscall.FILE_SHARE_DELETE,
		nil,
		creation,
		windowsFlags,
		0,
	)
	if err != nil {
		return 0, err
	}

	return uintptr(handle), nil
}

func newFileFromFd(handle uintptr, name string) *os.File {
	return os.NewFile(handle, name)
}
