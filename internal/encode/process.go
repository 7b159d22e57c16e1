package encode

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ffmpegPipe wraps an ffmpeg subprocess that is fed through stdin and read
// through stdout.
type ffmpegPipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cancel context.CancelFunc
}

func startFFmpegPipe(ctx context.Context, log *slog.Logger, args []string) (*ffmpegPipe, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create stdin pipe")
	}
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

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 4096), 64*1024)
		for scanner.Scan() {
			log.Debug("ffmpeg", "line", scanner.Text())
		}
	}()

	return &ffmpegPipe{cmd: cmd, stdin: stdin, stdout: stdout, cancel: cancel}, nil
}

// shutdown closes stdin so ffmpeg can flush, then escalates SIGTERM and
// kill. It reaps the process before returning.
func (p *ffmpegPipe) shutdown(grace time.Duration) {
	_ = p.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-done:
		case <-time.After(grace):
			p.cancel()
			<-done
		}
	}
	p.cancel()
}
