//go:build linux

package ivshrpc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenSharedBAR opens (creating if necessary) a BufferSize-byte file at path
// and mmaps it, standing in for the PCI BAR a real ivshmem device exposes —
// grounded on the teacher's uffd_linux.go use of unix.Mmap over a real file
// descriptor for a large shared region. The returned byte slice must be
// released with CloseSharedBAR.
func OpenSharedBAR(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ivshrpc: opening shared memory file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(BufferSize); err != nil {
		return nil, fmt.Errorf("ivshrpc: sizing shared memory file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, BufferSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ivshrpc: mmap: %w", err)
	}
	return data, nil
}

// CloseSharedBAR unmaps a region returned by OpenSharedBAR.
func CloseSharedBAR(data []byte) error {
	return unix.Munmap(data)
}

// OpenSharedBARFd mmaps an already-open shared memory file descriptor (the
// memfd handed over during the host handshake, spec.md §6 step 3) rather
// than opening one by path.
func OpenSharedBARFd(fd int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, BufferSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ivshrpc: mmap memfd: %w", err)
	}
	return data, nil
}
