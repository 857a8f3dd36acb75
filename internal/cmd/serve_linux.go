//go:build linux

package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/bahusvel/faastr-go/internal/ivshrpc"
	"github.com/bahusvel/faastr-go/internal/ring"
)

// hostPeerID is this daemon's fixed handshake id (spec.md §6 does not
// mandate an allocation scheme for a two-peer BAR; the guest's id instead
// comes from whatever it sends, see connectGuestIDFlag in connect.go).
const hostPeerID int64 = 0

// serveHost accepts exactly one guest connection on sockPath, performs the
// host side of spec.md §6's handshake — a memfd-backed BAR plus a real
// eventfd pair for the doorbell — and returns a Peer driving the host's
// half of the transport. Grounded on the teacher's uffd_linux.go
// accept-then-hand-off-fds shape.
func serveHost(cmd *cobra.Command, handler ivshrpc.Handler, sockPath string) (*ivshrpc.Peer, func(), error) {
	memFd, err := unix.MemfdCreate("faastr-bar", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("serve: creating memfd: %w", err)
	}
	if err := unix.Ftruncate(memFd, ivshrpc.BufferSize); err != nil {
		unix.Close(memFd)
		return nil, nil, fmt.Errorf("serve: sizing memfd: %w", err)
	}
	bar, err := ivshrpc.OpenSharedBARFd(memFd)
	if err != nil {
		unix.Close(memFd)
		return nil, nil, fmt.Errorf("serve: mapping memfd: %w", err)
	}
	aHalf, bHalf, err := ivshrpc.SplitBAR(bar)
	if err != nil {
		return nil, nil, err
	}
	if _, err := ring.InitHeader(aHalf); err != nil {
		return nil, nil, fmt.Errorf("serve: initializing host ring: %w", err)
	}
	if _, err := ring.InitHeader(bHalf); err != nil {
		return nil, nil, fmt.Errorf("serve: initializing guest ring: %w", err)
	}

	// fdHostRings is read by the guest and written by the host; fdGuestRings
	// is the reverse — together they form one ivshrpc doorbell pair.
	fdHostRings, err := ivshrpc.NewEventfd()
	if err != nil {
		return nil, nil, err
	}
	fdGuestRings, err := ivshrpc.NewEventfd()
	if err != nil {
		return nil, nil, err
	}
	bell, err := ivshrpc.NewEventfdDoorbell(fdHostRings, fdGuestRings)
	if err != nil {
		return nil, nil, err
	}

	os.Remove(sockPath)
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		return nil, nil, fmt.Errorf("serve: listening on %s: %w", sockPath, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "serve: waiting for a guest on %s\n", sockPath)

	conn, err := listener.AcceptUnix()
	listener.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("serve: accepting guest connection: %w", err)
	}

	guestID, err := ivshrpc.HostHandshake(conn, hostPeerID, memFd, fdHostRings, fdGuestRings)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("serve: handshake: %w", err)
	}
	conn.Close()
	fmt.Fprintf(cmd.ErrOrStderr(), "serve: guest %d connected\n", guestID)

	peer := ivshrpc.NewPeer("host", aHalf, bHalf, bell, handler, log)
	cleanup := func() {
		os.Remove(sockPath)
	}
	return peer, cleanup, nil
}
