package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theodox/multimaya"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "multimaya %s (shim template %d, frame protocol %d)\n",
			version, multimaya.ShimTemplateVersion, multimaya.FrameProtocolVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
