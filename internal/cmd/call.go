package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// addCallCommands registers fuse and cast, the two entry points spec.md §4.I
// names: fuse blocks for a result, cast fires-and-forgets. Both load the
// named ELF module fresh into a one-shot Kernel, since each CLI invocation
// is its own process — a long-lived kernel instead lives behind `faastr
// serve` (see serve.go).
func addCallCommands(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "fuse <module.elf> <function> [args...]",
		Short: "load a module and fuse-call one of its functions, blocking for the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := NewKernel(log)
			mod, err := k.LoadModule(args[0], nil)
			if err != nil {
				return err
			}
			result, err := k.Fuse(mod.Name()+":"+args[1], parseArgs(args[2:]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(result))
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "cast <module.elf> <function> [args...]",
		Short: "load a module and cast-call one of its functions without waiting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := NewKernel(log)
			mod, err := k.LoadModule(args[0], nil)
			if err != nil {
				return err
			}
			if err := k.Cast(mod.Name()+":"+args[1], parseArgs(args[2:])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cast %s:%s dispatched\n", mod.Name(), args[1])
			return nil
		},
	})
}
