package cmd

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/daemon"
)

// NewUICmd creates the ui command
func NewUICmd() *cobra.Command {
	return &cobra.Command{
		Use:           "ui",
		Short:         "Open the operator console in a browser",
		Long:          `Open the rover's operator console, the web page with live video, audio and driving controls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := daemon.NewManager()
			if !dm.IsServerRunning() {
				return errors.New("rover server is not running, start it with 'rover server start'")
			}

			url := consoleURL()
			fmt.Printf("Operator console: %s\n", url)
			fmt.Println("Attempting to open browser...")
			if err := browser.OpenURL(url); err != nil {
				fmt.Println("Failed to open browser automatically, please visit the link above manually")
			}
			return nil
		},
	}
}
