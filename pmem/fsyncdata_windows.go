//go:build windows

package pmem

import "syscall"

const flushFlagsFileDataSyncOnly = 0x00000004

var (
	modntdll                 = syscall.NewLazyDLL("ntdll.dll")
	procNtFlushBuffersFileEx = modntdll.NewProc("NtFlushBuffersFileEx")
)

// fdatasync is the Windows implementation of fdatasync.
// https://learn.microsoft.com/en-us/windows-hardware/drivers/ddi/ntifs/nf-ntifs-ntflushbuffersfileex
func fdatasync(fd uintptr) error {
	status, _, _ := procNtFlushBuffersFileEx.Call(
		fd,
		flushFlagsFileDataSyncOnly,
		0,
		0,
		0,
	)

	if status != 0 {
		return syscall.FlushFileBuffers(syscall.Handle(fd))
	}

	return nil
}
