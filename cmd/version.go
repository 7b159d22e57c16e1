package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/util"
	"github.com/roverlink/rover/internal/version"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if short {
				fmt.Println(info["Version"])
				return nil
			}
			util.RenderKV(os.Stdout, [][2]string{
				{"Version", info["Version"]},
				{"Git commit", info["GitCommit"]},
				{"Built", info["FormattedTime"]},
				{"Go version", info["GoVersion"]},
				{"OS/Arch", info["OS"] + "/" + info["Arch"]},
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
