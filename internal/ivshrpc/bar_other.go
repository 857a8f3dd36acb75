//go:build !linux

package ivshrpc

// OpenSharedBAR falls back to a process-local byte slice on platforms
// without a real mmap-backed shared memory facility (matching the
// teacher's machine_other.go stub pattern): useful for the in-process
// loopback mode (see cmd/faastr) but not for a real cross-process BAR.
func OpenSharedBAR(path string) ([]byte, error) {
	return make([]byte, BufferSize), nil
}

// CloseSharedBAR is a no-op on this platform; the slice is reclaimed by the
// garbage collector.
func CloseSharedBAR(data []byte) error { return nil }
