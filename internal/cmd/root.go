// Package cmd implements the faastr CLI, grounded on dsmmcken-dh-cli's
// internal/cmd package: one addXCommands(parent) function per subcommand
// group, package-level flag variables, and a PersistentPreRunE validating
// global flags before any subcommand runs.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bahusvel/faastr-go/internal/config"
)

// Version is overridden at build time via -ldflags, matching the teacher's
// Version var convention.
var Version = "dev"

var (
	verboseFlag bool
	quietFlag   bool
	configDir   string
)

// log is the package-wide subsystem logger every subcommand's Kernel shares,
// matching the teacher's convention of a logrus.Logger configured once from
// the root command's persistent flags.
var log = logrus.New()

// NewRootCmd assembles the faastr command tree.
func NewRootCmd() *cobra.Command {
	root := newRootCmd()
	addLoadCommand(root)
	addCallCommands(root)
	addServeCommand(root)
	addConnectCommand(root)
	addTopCommand(root)
	addConfigCommands(root)
	return root
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "faastr",
		Short:         "faastr — a cast/fuse function-invocation microkernel",
		Long:          "faastr loads modules, and casts or fuses functions in them, over a cooperatively scheduled context table.",
		Version:       fmt.Sprintf("faastr v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			switch {
			case quietFlag:
				log.SetLevel(logrus.ErrorLevel)
			case verboseFlag:
				log.SetLevel(logrus.DebugLevel)
			default:
				log.SetLevel(logrus.InfoLevel)
			}
			config.SetConfigDir(configDir)
			return nil
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pflags := root.PersistentFlags()
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "debug-level subsystem logging")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "errors only")
	pflags.StringVar(&configDir, "config-dir", "", "override config directory (default: ~/.faastr)")

	if v := os.Getenv("FAASTR_HOME"); v != "" && configDir == "" {
		configDir = v
	}

	return root
}

// Execute runs the root command, matching the teacher's thin main.go entry
// point convention.
func Execute() error {
	return NewRootCmd().Execute()
}
