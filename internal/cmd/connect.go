package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var connectGuestIDFlag int64

// addConnectCommand registers the guest-side counterpart to `faastr serve
// --handshake-sock`: it dials the host's UNIX socket, performs spec.md §6's
// handshake (internal/ivshrpc.RunHandshake), and issues a single fuse call
// over the resulting shared-memory transport.
func addConnectCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "connect <sock> <target> [args...]",
		Short: "dial a serve daemon's handshake socket and fuse-call a target over it",
		Long: `connect performs the guest side of the spec.md §6 handshake against a
running "faastr serve --handshake-sock" daemon, then fuses target
("module:name") over the resulting shared-memory transport and prints the
result. Linux only.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := connectAndFuse(cmd, args[0], connectGuestIDFlag, args[1], parseArgs(args[2:]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(result))
			return nil
		},
	}
	cmd.Flags().Int64Var(&connectGuestIDFlag, "id", 1, "this guest's peer id")
	parent.AddCommand(cmd)
}
