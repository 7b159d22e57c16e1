package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/util"
	"github.com/roverlink/rover/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "rover",
	Short: "RK3568 rover control",
	Long: `rover manages a tracked RK3568 rover: it runs the onboard server that
streams camera and microphone over WebRTC and drives the tracks, and it
provides operator commands to inspect and steer the vehicle remotely.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLogger(verbose || config.IsDebug())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.Info()
			fmt.Printf("rover version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(NewServerCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewDriveCmd())
	rootCmd.AddCommand(NewEstopCmd())
	rootCmd.AddCommand(NewSnapshotCmd())
	rootCmd.AddCommand(NewTrimCmd())
	rootCmd.AddCommand(NewUICmd())
	rootCmd.AddCommand(NewVersionCommand())
}
