package commands

import (
	"fmt"

	"github.com/danmuck/spreadctl/internal/protocol/handshake"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints spreadctl and protocol versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s, BuildTime: %s, Protocol: %d.%d.%d\n",
			Version, BuildTime, handshake.MajorVersion, handshake.MinorVersion, handshake.PatchVersion)
	},
}
