// Package daemon manages the background rover server process: starting
// it detached from the CLI, finding it again later, and stopping it.
package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/util"
)

const (
	healthTimeout = 500 * time.Millisecond
	startupPolls  = 20
	startupDelay  = 250 * time.Millisecond
)

// Manager handles the rover server daemon lifecycle.
type Manager struct {
	port int
	url  string
	log  *slog.Logger
}

// NewManager builds a manager for the configured server port.
func NewManager() *Manager {
	port := config.GetServerPort()
	return &Manager{
		port: port,
		url:  fmt.Sprintf("http://localhost:%d", port),
		log:  util.Component("daemon"),
	}
}

// URL returns the local base URL of the managed server.
func (m *Manager) URL() string { return m.url }

// PIDFile returns the pidfile path.
func (m *Manager) PIDFile() string {
	return filepath.Join(config.HomeDir(), "rover.pid")
}

// LogFile returns where the daemonized server writes its log.
func (m *Manager) LogFile() string {
	return filepath.Join(config.HomeDir(), "server.log")
}

// EnsureServerRunning starts the server unless one is already up.
func (m *Manager) EnsureServerRunning() error {
	if m.IsServerRunning() {
		return nil
	}
	return m.StartServer()
}

// IsServerRunning reports whether a live server answers on the port.
// Stale runtime files from a dead process are cleaned up on the way.
func (m *Manager) IsServerRunning() bool {
	if pid, err := m.readPID(); err == nil {
		if isProcessAlive(pid) && m.checkHTTPHealth() {
			return true
		}
		m.removeRuntimeFiles()
	}
	// A server started in the foreground has no pidfile but still
	// answers health checks.
	return m.checkHTTPHealth()
}

func (m *Manager) checkHTTPHealth() bool {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(m.url + "/api/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StartServer launches the rover server as a detached subprocess and
// waits until it answers health checks.
func (m *Manager) StartServer() error {
	if _, err := config.EnsureHomeDir(); err != nil {
		return errors.Wrap(err, "create rover home")
	}

	logFd, err := os.OpenFile(m.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open server log")
	}
	defer logFd.Close()

	exePath, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "locate executable")
	}

	cmd := exec.Command(exePath, "server", "--internal-daemon")
	cmd.Stdout = logFd
	cmd.Stderr = logFd
	cmd.Env = append(os.Environ(), "ROVER_SERVER_DAEMON=1")
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start server daemon")
	}
	pid := cmd.Process.Pid

	if err := os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		m.log.Warn("pidfile write failed", "error", err)
	}

	for i := 0; i < startupPolls; i++ {
		time.Sleep(startupDelay)
		if m.checkHTTPHealth() {
			m.log.Info("rover server started", "pid", pid, "port", m.port)
			return nil
		}
	}
	return errors.Errorf("server started but not responding on port %d, see %s", m.port, m.LogFile())
}

// StopServer terminates the daemonized server. SIGTERM first so the
// rover can park the motors, a kill only if it ignores that.
func (m *Manager) StopServer() error {
	pid, err := m.readPID()
	if err != nil {
		return errors.New("rover server is not running")
	}

	if err := killProcess(pid, syscall.SIGTERM); err != nil {
		m.removeRuntimeFiles()
		return errors.Wrapf(err, "stop server pid %d", pid)
	}

	for i := 0; i < 40 && isProcessAlive(pid); i++ {
		time.Sleep(startupDelay)
	}
	if isProcessAlive(pid) {
		m.log.Warn("server ignored SIGTERM, killing", "pid", pid)
		_ = killProcess(pid, syscall.SIGKILL)
	}

	m.removeRuntimeFiles()
	m.log.Info("rover server stopped", "pid", pid)
	return nil
}

func (m *Manager) readPID() (int, error) {
	data, err := os.ReadFile(m.PIDFile())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil || pid <= 0 {
		return 0, errors.Errorf("invalid pidfile %s", m.PIDFile())
	}
	return pid, nil
}

func (m *Manager) removeRuntimeFiles() {
	os.Remove(m.PIDFile())
	RemoveServerInfo()
}

// ServerInfo is written by the running server so CLI commands can find
// its port and access token.
type ServerInfo struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Token     string    `json:"token"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
}

func serverInfoPath() string {
	return filepath.Join(config.HomeDir(), "server.json")
}

// WriteServerInfo records the running server's coordinates. The file
// holds the access token, keep it private.
func WriteServerInfo(info ServerInfo) error {
	if _, err := config.EnsureHomeDir(); err != nil {
		return errors.Wrap(err, "create rover home")
	}
	data, err := sonic.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "serialize server info")
	}
	return os.WriteFile(serverInfoPath(), data, 0o600)
}

// ReadServerInfo loads the coordinates of the running server.
func ReadServerInfo() (ServerInfo, error) {
	var info ServerInfo
	data, err := os.ReadFile(serverInfoPath())
	if err != nil {
		return info, errors.Wrap(err, "no running server found")
	}
	if err := sonic.Unmarshal(data, &info); err != nil {
		return info, errors.Wrap(err, "parse server info")
	}
	return info, nil
}

// RemoveServerInfo drops the coordinates file.
func RemoveServerInfo() {
	os.Remove(serverInfoPath())
}
