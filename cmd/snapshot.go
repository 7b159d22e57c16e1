package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/client"
)

// NewSnapshotCmd creates the snapshot command
func NewSnapshotCmd() *cobra.Command {
	var (
		output string
		camera string
		width  int
	)

	cmd := &cobra.Command{
		Use:           "snapshot",
		Short:         "Save a still image from a camera",
		Long:          `Fetch the most recent frame from the rover and save it as a JPEG file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}

			data, err := c.SnapshotJPEG(cmd.Context(), camera, width)
			if err != nil {
				return err
			}

			if output == "" {
				output = fmt.Sprintf("rover-%s.jpg", time.Now().Format("20060102-150405"))
			}
			if output == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}

			fmt.Printf("saved %s (%d bytes)\n", output, len(data))
			return nil
		},
		Example: `  # Save the active camera's latest frame
  rover snapshot

  # Rear camera, downscaled, to a chosen file
  rover snapshot --camera rear --width 640 -o rear.jpg

  # Pipe to another tool
  rover snapshot -o - | feh -`,
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "Output file (default rover-<timestamp>.jpg, - for stdout)")
	flags.StringVar(&camera, "camera", "", "Camera to read (front, rear, default active)")
	flags.IntVar(&width, "width", 0, "Downscale to this width in pixels")

	return cmd
}
