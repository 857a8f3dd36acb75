package ring

import (
	"runtime"
	"time"
	"unsafe"
)

// ptrAt returns a pointer to the uint64 at byte offset off within buf. buf
// must be at least off+8 bytes and the caller must keep buf alive for the
// lifetime of the returned pointer (true for every use here: the Producer/
// Consumer holds the backing slice).
func ptrAt(buf []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&buf[off])
}

// spinWait backs off a busy-waiting loop. The source kernel uses a bare
// `pause` instruction; hosted Go has no equivalent, so a scheduler yield
// stands in for it to avoid pegging a core while waiting on another
// goroutine.
func spinWait() {
	runtime.Gosched()
	time.Sleep(time.Microsecond)
}
