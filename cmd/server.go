package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/daemon"
	"github.com/roverlink/rover/internal/rover"
)

// NewServerCmd creates the server command with subcommands
func NewServerCmd() *cobra.Command {
	var internalDaemon bool

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Manage the onboard rover server",
		Long:          `Manage the onboard server that captures camera and microphone, streams them over WebRTC and drives the tracks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if internalDaemon {
				return runServer(false)
			}
			return cmd.Help()
		},
	}

	// Flag --internal-daemon is hidden in help message for internal use.
	// The daemon manager re-invokes the CLI with it to land in runServer
	// with stdout already redirected to the log file.
	flags := cmd.Flags()
	flags.BoolVarP(&internalDaemon, "internal-daemon", "", false, "")
	flags.Lookup("internal-daemon").Hidden = true

	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerStopCmd())
	cmd.AddCommand(newServerStatusCmd())
	cmd.AddCommand(newServerRestartCmd())

	return cmd
}

// newServerStartCmd creates the 'server start' subcommand
func newServerStartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
	)

	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the rover server",
		Long:          `Start the rover server if it's not already running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				overridePort(port)
			}
			if foreground {
				return runServer(true)
			}
			return startServerDaemon()
		},
		Example: `  # Start server in background
  rover server start

  # Start server in foreground (see logs)
  rover server start --foreground
  rover server start -f

  # Start server on specific port
  rover server start -p 9090`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", 8080, "Server port")
	flags.BoolVarP(&foreground, "foreground", "f", false, "Run server in foreground (show logs)")

	return cmd
}

// newServerStopCmd creates the 'server stop' subcommand
func newServerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "stop",
		Short:         "Stop the rover server",
		Long:          `Stop the rover server if it's running. The motors receive an emergency stop during shutdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.NewManager().StopServer(); err != nil {
				return err
			}
			fmt.Println("rover server stopped")
			return nil
		},
	}
}

// newServerStatusCmd creates the 'server status' subcommand
func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server status",
		Long:  `Check if the rover server is running and display its coordinates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := daemon.NewManager()

			if !dm.IsServerRunning() {
				fmt.Println("❌ Rover server is not running")
				fmt.Println("   Use 'rover server start' to start it")
				return nil
			}

			fmt.Println("✅ Rover server is running")
			if info, err := daemon.ReadServerInfo(); err == nil {
				fmt.Printf("   Device: %s (pid %d), up since %s\n",
					info.Device, info.PID, info.StartedAt.Format(time.Stamp))
			}
			fmt.Printf("   API endpoint: %s/api/status\n", dm.URL())
			fmt.Printf("   Operator console: %s\n", consoleURL())

			return nil
		},
	}
}

// newServerRestartCmd creates the 'server restart' subcommand
func newServerRestartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
	)

	cmd := &cobra.Command{
		Use:           "restart",
		Short:         "Restart the rover server",
		Long:          `Stop and then start the rover server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := daemon.NewManager()
			if dm.IsServerRunning() {
				if err := dm.StopServer(); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("port") {
				overridePort(port)
			}
			if foreground {
				return runServer(true)
			}
			return startServerDaemon()
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", 8080, "Server port")
	flags.BoolVarP(&foreground, "foreground", "f", false, "Run server in foreground after restart (show logs)")

	return cmd
}

// overridePort routes a -p flag through the ROVER_PORT env alias so both
// this process's config reads and a re-exec'd daemon child pick it up.
func overridePort(port int) {
	os.Setenv("ROVER_PORT", strconv.Itoa(port))
}

// startServerDaemon launches the server as a detached process and waits
// until it answers health checks.
func startServerDaemon() error {
	dm := daemon.NewManager()
	if dm.IsServerRunning() {
		fmt.Printf("rover server is already running on port %d\n", config.GetServerPort())
		return nil
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Prefix = "  "
	sp.Suffix = " starting rover server..."
	sp.Start()
	err := dm.StartServer()
	sp.Stop()
	fmt.Print("\r\033[K")
	if err != nil {
		return err
	}

	printServerBanner(consoleURL())
	return nil
}

// runServer owns the full server lifecycle in this process: hardware
// init, capture, streaming and motors, until SIGINT or SIGTERM.
func runServer(foreground bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rv := rover.New()
	if err := rv.Initialize(ctx); err != nil {
		return err
	}
	if err := rv.Start(ctx); err != nil {
		return err
	}

	// Drop the coordinates file so CLI commands on the same host can
	// find the port and access token.
	info := daemon.ServerInfo{
		PID:       os.Getpid(),
		Port:      config.GetServerPort(),
		Token:     rv.Server().Token(),
		Device:    rv.DeviceID(),
		StartedAt: time.Now(),
	}
	if err := daemon.WriteServerInfo(info); err != nil {
		rv.Stop()
		return err
	}
	defer daemon.RemoveServerInfo()

	if foreground {
		printServerBanner(rv.Server().ConsoleURL())
		fmt.Printf("%sPress Ctrl+C to stop...%s\n", colorCyan, colorReset)
	}

	err := rv.Wait(ctx)
	rv.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func printServerBanner(url string) {
	fmt.Printf("%s🚀 Rover Server%s %s➜ %s%s%s\n", colorGreen, colorReset, colorCyan, colorBlue, url, colorReset)
}

// consoleURL rebuilds the operator console address from the coordinates
// file, falling back to the bare server URL when none is readable.
func consoleURL() string {
	if info, err := daemon.ReadServerInfo(); err == nil {
		return fmt.Sprintf("http://localhost:%d/?token=%s", info.Port, info.Token)
	}
	return daemon.NewManager().URL()
}
