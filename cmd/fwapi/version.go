package fwapi

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crazycatseven/Faster-whisper/pkg/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}
