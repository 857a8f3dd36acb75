package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/config"
)

// addConfigCommands is grounded directly on the teacher's config.go: one
// bare `config` command printing the whole file, plus get/set/path
// subcommands over dot-separated keys.
func addConfigCommands(root *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage faastr configuration",
		Long:  "Show, get, and set values in the faastr config file (~/.faastr/faastrrc).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config file: %s\n", config.Path())
			fmt.Fprintf(cmd.OutOrStdout(), "module_path = %s\n", cfg.ModulePath)
			fmt.Fprintf(cmd.OutOrStdout(), "cpu_count = %d\n", cfg.CPUCount)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "get a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), val)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Set(args[0], args[1]); err != nil {
				return err
			}
			if !quietFlag {
				fmt.Fprintf(cmd.OutOrStdout(), "set %s = %s\n", args[0], args[1])
			}
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.Path())
			return nil
		},
	}

	configCmd.AddCommand(getCmd, setCmd, pathCmd)
	root.AddCommand(configCmd)
}
