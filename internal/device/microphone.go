package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/util"
)

// MicrophoneConfig describes the ALSA capture device.
type MicrophoneConfig struct {
	Device     string
	SampleRate int
	Channels   int
	ChunkSize  int
}

// Microphone captures raw PCM from an ALSA device through ffmpeg. Each
// frame holds ChunkSize samples of signed 16-bit little endian audio.
type Microphone struct {
	cfg  MicrophoneConfig
	log  *slog.Logger
	proc *ffmpegProcess
}

// NewMicrophone prepares a microphone, Open starts the capture process.
func NewMicrophone(cfg MicrophoneConfig) *Microphone {
	return &Microphone{
		cfg: cfg,
		log: util.Component("microphone"),
	}
}

func (m *Microphone) Name() string { return "mic" }

// ChunkBytes returns the byte size of one PCM frame.
func (m *Microphone) ChunkBytes() int {
	return m.cfg.ChunkSize * m.cfg.Channels * 2
}

// ChunkDuration returns the play time of one PCM frame.
func (m *Microphone) ChunkDuration() time.Duration {
	if m.cfg.SampleRate == 0 {
		return 0
	}
	return time.Duration(m.cfg.ChunkSize) * time.Second / time.Duration(m.cfg.SampleRate)
}

// Open starts the ffmpeg capture process.
func (m *Microphone) Open(ctx context.Context) error {
	if m.proc != nil {
		return nil
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "alsa",
		"-ar", fmt.Sprintf("%d", m.cfg.SampleRate),
		"-ac", fmt.Sprintf("%d", m.cfg.Channels),
		"-i", m.cfg.Device,
		"-f", "s16le",
		"-",
	}
	proc, err := startFFmpeg(ctx, m.log, args, 2*time.Second)
	if err != nil {
		return errors.Wrapf(err, "open microphone %s", m.cfg.Device)
	}
	m.proc = proc
	m.log.Info("microphone opened",
		"device", m.cfg.Device,
		"sample_rate", m.cfg.SampleRate,
		"channels", m.cfg.Channels)
	return nil
}

// ReadFrame returns the next PCM chunk.
func (m *Microphone) ReadFrame() ([]byte, error) {
	if m.proc == nil {
		return nil, errors.New("microphone is not open")
	}
	buf := make([]byte, m.ChunkBytes())
	if _, err := io.ReadFull(m.proc, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close stops the capture process.
func (m *Microphone) Close() error {
	if m.proc == nil {
		return nil
	}
	m.proc.stop(3 * time.Second)
	m.proc = nil
	m.log.Info("microphone closed", "device", m.cfg.Device)
	return nil
}
