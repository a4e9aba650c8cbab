package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X github.com/jmcleod/emporia/cmd/emporia/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the client version",
	Annotations: map[string]string{skipSetup: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
