package device

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ffmpegProcess wraps an ffmpeg subprocess whose stdout carries captured
// media. Reads go through a per-call deadline on the pipe so a wedged
// device surfaces as a timeout instead of hanging the capture loop.
type ffmpegProcess struct {
	log         *slog.Logger
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	pipe        *os.File
	cancel      context.CancelFunc
	readTimeout time.Duration
}

func startFFmpeg(ctx context.Context, log *slog.Logger, args []string, readTimeout time.Duration) (*ffmpegProcess, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "start ffmpeg")
	}
	log.Debug("ffmpeg started", "pid", cmd.Process.Pid, "args", args)

	go logStderr(log, stderr)

	p := &ffmpegProcess{
		log:         log,
		cmd:         cmd,
		stdout:      stdout,
		cancel:      cancel,
		readTimeout: readTimeout,
	}
	// exec pipes are os.Pipe files, which support read deadlines on Linux.
	if f, ok := stdout.(*os.File); ok {
		p.pipe = f
	}
	return p, nil
}

func (p *ffmpegProcess) Read(buf []byte) (int, error) {
	if p.pipe != nil && p.readTimeout > 0 {
		if err := p.pipe.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			p.pipe = nil
		}
	}
	return p.stdout.Read(buf)
}

// stop sends SIGTERM and escalates to a kill after the grace period.
func (p *ffmpegProcess) stop(grace time.Duration) {
	if p.cmd == nil || p.cmd.Process == nil {
		p.cancel()
		return
	}
	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		p.cancel()
		<-done
	}
	p.cancel()
}

func logStderr(log *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		log.Debug("ffmpeg", "line", scanner.Text())
	}
}
