//go:build linux

package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/ivshrpc"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// connectAndFuse dials sockPath, performs the guest side of spec.md §6's
// handshake as peer guestID, maps the shared BAR it receives, and issues a
// single fuse call for target, returning its decoded result. This process
// answers any inbound Cast/Fuse from the host with its own (empty) Kernel —
// a real guest would load modules first via --load, mirroring serve's flag.
func connectAndFuse(cmd *cobra.Command, sockPath string, guestID int64, target string, args []sos.Value) ([]sos.Value, error) {
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connect: resolving %s: %w", sockPath, err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("connect: dialing %s: %w", sockPath, err)
	}
	defer conn.Close()

	res, err := ivshrpc.RunHandshake(conn, guestID)
	if err != nil {
		return nil, fmt.Errorf("connect: handshake: %w", err)
	}
	if len(res.Peers) != 1 {
		return nil, fmt.Errorf("connect: expected exactly one peer from handshake, got %d", len(res.Peers))
	}

	bar, err := ivshrpc.OpenSharedBARFd(res.MemFd)
	if err != nil {
		return nil, fmt.Errorf("connect: mapping shared BAR: %w", err)
	}
	aHalf, bHalf, err := ivshrpc.SplitBAR(bar)
	if err != nil {
		return nil, err
	}

	bell, err := ivshrpc.NewEventfdDoorbell(res.Peers[0].Fd, res.MyIRQFd)
	if err != nil {
		return nil, err
	}

	k := NewKernel(log)
	handler := &hostHandler{kernel: k}
	guest := ivshrpc.NewPeer("guest", bHalf, aHalf, bell, handler, log)
	go guest.Run()
	defer guest.Close()

	values := append([]sos.Value{sos.String(target)}, args...)
	return guest.Fuse(values)
}
