package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "periodicd",
	Short: "Distributed periodic task scheduler",
	Long: `periodicd reads periodic task definitions from a shared store, submits
each due occurrence to the job queue exactly once across all running nodes,
and executes the resulting jobs on a local worker pool.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (env PERIODIC_CONFIG)")
}
