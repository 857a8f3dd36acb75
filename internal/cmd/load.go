package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func addLoadCommand(parent *cobra.Command) {
	load := &cobra.Command{
		Use:   "load <path>",
		Short: "parse an ELF module and print its manifest name (functions are not listed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := NewKernel(log)
			mod, err := k.LoadModule(args[0], nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %q from %s\n", mod.Name(), args[0])
			return nil
		},
	}
	parent.AddCommand(load)
}
