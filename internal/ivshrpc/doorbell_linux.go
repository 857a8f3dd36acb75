//go:build linux

package ivshrpc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// eventfdDoorbell backs the real cross-process Doorbell over a pair of
// Linux eventfds, standing in for the RPC device's interrupt-raise (offset
// 0xC) and interrupt-status-clear-on-read (offset 0x4) MMIO registers named
// in spec.md §6. ringFd is written to wake the peer; waitFd is read (which,
// like the real register, clears the pending count) to learn this peer has
// been woken.
type eventfdDoorbell struct {
	ringFd int
	waitFd int
	ch     chan struct{}
	stop   chan struct{}
}

// NewEventfdDoorbell creates an eventfd-backed Doorbell and starts a reader
// goroutine translating eventfd reads into Wait() channel sends. ringFd and
// waitFd are typically received over the host handshake's SCM_RIGHTS
// exchange (see handshake_linux.go).
func NewEventfdDoorbell(ringFd, waitFd int) (*eventfdDoorbell, error) {
	d := &eventfdDoorbell{ringFd: ringFd, waitFd: waitFd, ch: make(chan struct{}, 1), stop: make(chan struct{})}
	go d.pump()
	return d, nil
}

func (d *eventfdDoorbell) pump() {
	buf := make([]byte, 8)
	for {
		n, err := unix.Read(d.waitFd, buf)
		if err != nil || n != 8 {
			select {
			case <-d.stop:
				return
			default:
				continue
			}
		}
		select {
		case d.ch <- struct{}{}:
		default:
		}
	}
}

func (d *eventfdDoorbell) Ring() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	if _, err := unix.Write(d.ringFd, buf); err != nil {
		return fmt.Errorf("ivshrpc: ringing peer eventfd: %w", err)
	}
	return nil
}

func (d *eventfdDoorbell) Wait() <-chan struct{} { return d.ch }

// Close stops the pump goroutine and closes both eventfds.
func (d *eventfdDoorbell) Close() error {
	close(d.stop)
	unix.Close(d.ringFd)
	return unix.Close(d.waitFd)
}

// NewEventfd creates a fresh, non-semaphore-mode Linux eventfd suitable for
// use as either end of an eventfdDoorbell pair.
func NewEventfd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("ivshrpc: creating eventfd: %w", err)
	}
	return fd, nil
}
