package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/util"
)

// CameraConfig describes one V4L2 camera.
type CameraConfig struct {
	Name       string
	DevicePath string
	Width      int
	Height     int
	Framerate  int
	Format     string
}

// Camera captures JPEG frames from a V4L2 device through an ffmpeg
// subprocess. Cameras that already deliver MJPEG are passed through
// untouched, other pixel formats are re-encoded.
type Camera struct {
	cfg     CameraConfig
	log     *slog.Logger
	proc    *ffmpegProcess
	scanner *MJPEGScanner
}

// NewCamera prepares a camera, Open starts the capture process.
func NewCamera(cfg CameraConfig) *Camera {
	return &Camera{
		cfg: cfg,
		log: util.Component("camera").With("camera", cfg.Name),
	}
}

func (c *Camera) Name() string { return c.cfg.Name }

// Width returns the configured capture width.
func (c *Camera) Width() int { return c.cfg.Width }

// Height returns the configured capture height.
func (c *Camera) Height() int { return c.cfg.Height }

// Open starts the ffmpeg capture process. The device node is checked
// first: ffmpeg only reports a missing device after it has spawned, too
// late for the caller to tell a broken camera from a working one.
func (c *Camera) Open(ctx context.Context) error {
	if c.proc != nil {
		return nil
	}
	if _, err := os.Stat(c.cfg.DevicePath); err != nil {
		return errors.Wrapf(err, "camera %s (%s)", c.cfg.Name, c.cfg.DevicePath)
	}
	proc, err := startFFmpeg(ctx, c.log, c.buildArgs(), 2*time.Second)
	if err != nil {
		return errors.Wrapf(err, "open camera %s (%s)", c.cfg.Name, c.cfg.DevicePath)
	}
	c.proc = proc
	c.scanner = NewMJPEGScanner(proc)
	c.log.Info("camera opened",
		"device", c.cfg.DevicePath,
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"framerate", c.cfg.Framerate)
	return nil
}

// ReadFrame returns the next complete JPEG image.
func (c *Camera) ReadFrame() ([]byte, error) {
	if c.scanner == nil {
		return nil, errors.Errorf("camera %s is not open", c.cfg.Name)
	}
	return c.scanner.Next()
}

// Close stops the capture process.
func (c *Camera) Close() error {
	if c.proc == nil {
		return nil
	}
	c.proc.stop(3 * time.Second)
	c.proc = nil
	c.scanner = nil
	c.log.Info("camera closed", "device", c.cfg.DevicePath)
	return nil
}

func (c *Camera) buildArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
	}
	size := fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height)
	rate := fmt.Sprintf("%d", c.cfg.Framerate)

	if strings.EqualFold(c.cfg.Format, "MJPG") || strings.EqualFold(c.cfg.Format, "MJPEG") {
		args = append(args,
			"-input_format", "mjpeg",
			"-video_size", size,
			"-framerate", rate,
			"-i", c.cfg.DevicePath,
			"-c:v", "copy",
		)
	} else {
		args = append(args,
			"-video_size", size,
			"-framerate", rate,
			"-i", c.cfg.DevicePath,
			"-c:v", "mjpeg",
			"-q:v", "5",
		)
	}
	return append(args, "-f", "mjpeg", "-")
}
