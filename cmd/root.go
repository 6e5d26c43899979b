// Package cmd wires the cobra command tree: a root command plus serve,
// mkfs, and shell subcommands, following the same root-command +
// viper-bound-flags shape the teacher's own cmd package uses.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/U-interrupt/sel4service/cfg"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sel4service",
	Short: "An xv6-layout filesystem server split across seL4-style address spaces",
	Long: `sel4service hosts a small xv6-derived on-disk filesystem behind a
fixed wire protocol, reachable over one of three interchangeable IPC
disciplines (synchronous rendezvous, a polled shared-memory queue, or
signal-plus-shared-memory). See the serve, mkfs, and shell subcommands.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file.")

	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(err)
		}
	}
}

// Execute runs the command tree; it is the sole entry point main.go calls.
func Execute() error {
	return rootCmd.Execute()
}
