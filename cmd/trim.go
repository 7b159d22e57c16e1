package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/client"
	"github.com/roverlink/rover/internal/trim"
	"github.com/roverlink/rover/internal/util"
)

// NewTrimCmd creates the trim command with subcommands
func NewTrimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Show or adjust the drive trim",
		Long: `Show or adjust the drive trim. Trim scales each track's speed so a rover
that pulls to one side runs straight, and caps the top speed. Changes
apply immediately and persist across restarts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.Trim(cmd.Context())
			if err != nil {
				return err
			}
			printTrim(p)
			return nil
		},
	}

	cmd.AddCommand(newTrimSetCmd())

	return cmd
}

func newTrimSetCmd() *cobra.Command {
	var (
		left     float64
		right    float64
		maxSpeed int
	)

	cmd := &cobra.Command{
		Use:           "set",
		Short:         "Apply a new trim profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}

			// Unchanged flags keep their current value.
			p, err := c.Trim(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("left") {
				p.LeftScale = left
			}
			if cmd.Flags().Changed("right") {
				p.RightScale = right
			}
			if cmd.Flags().Changed("max-speed") {
				p.MaxSpeed = maxSpeed
			}

			applied, err := c.SetTrim(cmd.Context(), p)
			if err != nil {
				return err
			}
			printTrim(applied)
			return nil
		},
		Example: `  # The rover pulls right, slow the left track a little
  rover trim set --left 0.95

  # Cap the top speed for indoor driving
  rover trim set --max-speed 150`,
	}

	flags := cmd.Flags()
	flags.Float64Var(&left, "left", 1.0, "Left track scale (0-1]")
	flags.Float64Var(&right, "right", 1.0, "Right track scale (0-1]")
	flags.IntVar(&maxSpeed, "max-speed", 255, "Top speed cap (1-255)")

	return cmd
}

func printTrim(p trim.Profile) {
	util.RenderKV(os.Stdout, [][2]string{
		{"Left scale", fmt.Sprintf("%.2f", p.LeftScale)},
		{"Right scale", fmt.Sprintf("%.2f", p.RightScale)},
		{"Max speed", fmt.Sprintf("%d", p.MaxSpeed)},
	})
}
