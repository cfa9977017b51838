// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// multidriver drives a group of two to four step/dir motors from one
// timing loop.
//
// Usage:
//
//	multidriver --config gantry.yaml move 800 -400
//	multidriver --config gantry.yaml rotate 90 45 --realtime
//	multidriver --config gantry.cfg serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config    string
	logLevel  string
	logFormat string
	logFile   string
}

var rootCmd = &cobra.Command{
	Use:   "multidriver",
	Short: "Drive a group of step/dir motors from a single timing loop",
	Long: "multidriver runs coordinated moves on two to four stepper motors, either\n" +
		"once from the command line or as a service with a JSON-RPC status API.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootFlags.config, "config", "c", "", "group configuration file (.cfg, .yaml or .yml)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the config file)")
	f.StringVar(&rootFlags.logFormat, "log-format", "", "log format: text or json (overrides the config file)")
	f.StringVar(&rootFlags.logFile, "logfile", "", "write logs to a rotating file instead of stderr")

	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
