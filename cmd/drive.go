package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roverlink/rover/internal/client"
	"github.com/roverlink/rover/internal/motor"
)

const speedStep = 25

// NewDriveCmd creates the drive command
func NewDriveCmd() *cobra.Command {
	var speed int

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Drive the rover from the keyboard",
		Long: `Steer the rover interactively over the HTTP API.

  w / up        forward          a / left      turn left
  s / down      backward         d / right     turn right
  space         stop             + / -         adjust speed
  e             emergency stop   c             clear emergency stop
  1 / 2         front / rear camera
  q             quit`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}
			return driveLoop(cmd.Context(), c, speed)
		},
	}

	cmd.Flags().IntVar(&speed, "speed", 200, "Initial speed (1-255)")

	return cmd
}

func driveLoop(ctx context.Context, c *client.Client, speed int) error {
	speed = max(1, min(speed, motor.MaxSpeed))

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return errors.Wrap(err, "set terminal to raw mode")
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	// Raw mode, every line needs an explicit \r and updates land on one
	// status line cleared with \033[K.
	status := func(format string, args ...any) {
		fmt.Printf("\r\033[K"+format, args...)
	}

	send := func(typ, action string, withSpeed bool) {
		msg := client.Command{Type: typ, Action: action}
		if withSpeed {
			msg.Speed = speed
		}
		sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Send(sendCtx, msg)
		cancel()
		if err != nil {
			status("%s failed: %v\r\n", action, err)
			return
		}
		if withSpeed {
			status("→ %s @ %d", action, speed)
		} else {
			status("→ %s", action)
		}
	}

	fmt.Printf("Driving at speed %d. Press q to quit.\r\n", speed)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return err
		}

		switch decodeKey(buf[:n]) {
		case "forward":
			send("motor", "forward", true)
		case "backward":
			send("motor", "backward", true)
		case "left":
			send("motor", "turn_left", true)
		case "right":
			send("motor", "turn_right", true)
		case "stop":
			send("motor", "stop", false)
		case "faster":
			speed = min(speed+speedStep, motor.MaxSpeed)
			status("speed %d", speed)
		case "slower":
			speed = max(speed-speedStep, speedStep)
			status("speed %d", speed)
		case "estop":
			send("system", "emergency_stop", false)
			status("%s press c to clear", color.New(color.FgRed, color.Bold).Sprint("EMERGENCY STOP"))
		case "clear":
			send("system", "clear_emergency", false)
		case "front":
			send("camera", "switch_front", false)
		case "rear":
			send("camera", "switch_rear", false)
		case "quit":
			send("motor", "stop", false)
			status("")
			fmt.Printf("\r\n")
			return nil
		}
	}
}

// decodeKey maps one raw stdin read to a drive action. Arrow keys arrive
// as three byte escape sequences.
func decodeKey(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if b[0] == 0x1b {
		if len(b) >= 3 && b[1] == '[' {
			switch b[2] {
			case 'A':
				return "forward"
			case 'B':
				return "backward"
			case 'C':
				return "right"
			case 'D':
				return "left"
			}
		}
		return "quit"
	}
	switch b[0] {
	case 'w', 'W':
		return "forward"
	case 's', 'S':
		return "backward"
	case 'a', 'A':
		return "left"
	case 'd', 'D':
		return "right"
	case ' ':
		return "stop"
	case '+', '=':
		return "faster"
	case '-', '_':
		return "slower"
	case 'e', 'E':
		return "estop"
	case 'c', 'C':
		return "clear"
	case '1':
		return "front"
	case '2':
		return "rear"
	case 'q', 'Q', 0x03:
		return "quit"
	}
	return ""
}
