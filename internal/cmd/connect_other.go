//go:build !linux

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/sos"
)

func connectAndFuse(cmd *cobra.Command, sockPath string, guestID int64, target string, args []sos.Value) ([]sos.Value, error) {
	return nil, fmt.Errorf("connect: requires linux")
}
