//go:build !linux

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/ivshrpc"
)

// serveHost's real implementation needs memfd_create and eventfd, both
// Linux-only syscalls (golang.org/x/sys/unix); --handshake-sock is
// rejected on other platforms, matching the teacher's machine_other.go
// "feature unsupported on this platform" stub convention. The --shm
// loopback demo path (serve.go) remains available everywhere.
func serveHost(cmd *cobra.Command, handler ivshrpc.Handler, sockPath string) (*ivshrpc.Peer, func(), error) {
	return nil, nil, fmt.Errorf("serve: --handshake-sock requires linux")
}
