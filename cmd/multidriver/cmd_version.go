package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"multidriver-go/pkg/status"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "multidriver %s (api %s, %s %s/%s)\n",
			version, status.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
