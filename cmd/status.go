package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roverlink/rover/internal/client"
	"github.com/roverlink/rover/internal/rover"
	"github.com/roverlink/rover/internal/util"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show rover status",
		Long:          `Fetch and display the running rover's status: cameras, motors, peers and board health.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return printStatusJSON(st)
			}
			printStatus(st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output status as JSON")

	return cmd
}

func printStatusJSON(st rover.Snapshot) error {
	data, err := sonic.ConfigDefault.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printStatus(st rover.Snapshot) {
	running := color.New(color.FgGreen).Sprint("running")
	if !st.Running {
		running = color.New(color.Faint).Sprint("stopped")
	}

	motorState := color.New(color.FgGreen).Sprint("connected")
	if !st.Motor.Connected {
		motorState = color.New(color.Faint).Sprint("offline")
	}
	if st.Motor.EmergencyStop {
		motorState = color.New(color.FgRed, color.Bold).Sprint("EMERGENCY STOP")
	}

	pairs := [][2]string{
		{"Device", fmt.Sprintf("%s (%s)", st.Device, running)},
		{"Version", st.Version},
		{"Uptime", (time.Duration(st.UptimeSec) * time.Second).String()},
		{"Motors", fmt.Sprintf("%s, direction %s, L=%d R=%d",
			motorState, st.Motor.Direction, st.Motor.LeftSpeed, st.Motor.RightSpeed)},
		{"Peers", fmt.Sprintf("%d connected", st.Peers.Count)},
		{"Board", fmt.Sprintf("cpu %.0f%%, mem %.0f%%, load %.2f",
			st.System.CPUPercent, st.System.MemPercent, st.System.Load1)},
	}
	if st.Board != "" {
		pairs = append(pairs[:1], append([][2]string{{"Board model", st.Board}}, pairs[1:]...)...)
	}
	if st.System.TempCelsius > 0 {
		pairs = append(pairs, [2]string{"Temperature", fmt.Sprintf("%.1f°C", st.System.TempCelsius)})
	}
	if st.Audio.Enabled {
		pairs = append(pairs, [2]string{"Audio", fmt.Sprintf("%d fps, %d chunks", st.Audio.FPS, st.Audio.Frames)})
	} else {
		pairs = append(pairs, [2]string{"Audio", color.New(color.Faint).Sprint("disabled")})
	}
	util.RenderKV(os.Stdout, pairs)

	if len(st.Cameras) == 0 {
		return
	}

	fmt.Println()
	names := make([]string, 0, len(st.Cameras))
	for name := range st.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]map[string]string, 0, len(names))
	for _, name := range names {
		cam := st.Cameras[name]
		display := name
		if name == st.ActiveCamera {
			display = color.New(color.FgCyan).Sprint(name + " *")
		}
		rows = append(rows, map[string]string{
			"camera":   display,
			"fps":      fmt.Sprintf("%d", cam.FPS),
			"frames":   fmt.Sprintf("%d", cam.Frames),
			"failures": fmt.Sprintf("%d", cam.Failures),
		})
	}
	util.RenderTable(os.Stdout, []util.TableColumn{
		{Header: "CAMERA", Key: "camera"},
		{Header: "FPS", Key: "fps"},
		{Header: "FRAMES", Key: "frames"},
		{Header: "FAILURES", Key: "failures"},
	}, rows)

	if len(st.Peers.IDs) > 0 {
		fmt.Printf("\nPeers: %s\n", strings.Join(st.Peers.IDs, ", "))
	}
}
