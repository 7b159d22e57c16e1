package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/client"
)

// NewEstopCmd creates the estop command
func NewEstopCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "estop",
		Short: "Trigger or clear the emergency stop",
		Long: `Trigger the emergency stop: the rover halts immediately, drops any queued
motor commands and refuses new ones until the stop is cleared.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}

			action := "emergency_stop"
			if clear {
				action = "clear_emergency"
			}
			if err := c.Send(cmd.Context(), client.Command{Type: "system", Action: action}); err != nil {
				return err
			}

			if clear {
				fmt.Println("emergency stop cleared, motors accept commands again")
			} else {
				fmt.Printf("%s motors halted and locked, run 'rover estop --clear' to release\n",
					color.New(color.FgRed, color.Bold).Sprint("EMERGENCY STOP"))
			}
			return nil
		},
		Example: `  # Halt the rover immediately
  rover estop

  # Release the lock afterwards
  rover estop --clear`,
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear an active emergency stop")

	return cmd
}
