package encode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/util"
)

// opusGranuleRate is the granule position clock for Opus in Ogg, fixed at
// 48 kHz regardless of the capture rate.
const opusGranuleRate = 48000

// AudioEncoderConfig describes the Opus encode stage. SampleRate and
// Channels must match the PCM produced by the microphone.
type AudioEncoderConfig struct {
	SampleRate int
	Channels   int
	Bitrate    string
}

// AudioEncoderStats is a snapshot of the encoder counters.
type AudioEncoderStats struct {
	Packets       uint64 `json:"packets"`
	DroppedChunks uint64 `json:"dropped_chunks"`
	Restarts      uint64 `json:"restarts"`
}

// AudioEncoder turns raw PCM chunks into Opus packets. ffmpeg consumes
// s16le on stdin and produces an Ogg/Opus stream on stdout, one page per
// 20ms packet. Packets fan out through a broadcaster to WebRTC sessions
// and the live audio endpoint.
type AudioEncoder struct {
	cfg AudioEncoderConfig
	log *slog.Logger
	out *pipeline.Broadcaster[pipeline.AudioSample]

	frames chan []byte

	mu     sync.Mutex
	stdin  stdinWriter
	stats  AudioEncoderStats
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAudioEncoder prepares the encode stage. Start launches it.
func NewAudioEncoder(cfg AudioEncoderConfig) *AudioEncoder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "32k"
	}
	return &AudioEncoder{
		cfg:    cfg,
		log:    util.Component("opus"),
		out:    pipeline.NewBroadcaster[pipeline.AudioSample](),
		frames: make(chan []byte, 16),
	}
}

// Start launches the encoder process, the feed pump and the restart
// supervisor.
func (e *AudioEncoder) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go e.pump(ctx)
	go e.supervise(ctx, done)
	e.log.Info("audio encoder started",
		"sample_rate", e.cfg.SampleRate,
		"channels", e.cfg.Channels,
		"bitrate", e.cfg.Bitrate)
}

// Stop shuts the encoder down.
func (e *AudioEncoder) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.log.Info("audio encoder stopped")
}

// SubmitFrame hands a captured PCM chunk to the encoder without blocking.
func (e *AudioEncoder) SubmitFrame(frame media.Frame) {
	select {
	case e.frames <- frame.Data:
	default:
		e.mu.Lock()
		e.stats.DroppedChunks++
		e.mu.Unlock()
	}
}

// Subscribe attaches a packet consumer.
func (e *AudioEncoder) Subscribe(id string, buffer int) <-chan pipeline.AudioSample {
	return e.out.Subscribe(id, buffer)
}

// Unsubscribe detaches a packet consumer.
func (e *AudioEncoder) Unsubscribe(id string) {
	e.out.Unsubscribe(id)
}

// Stats returns a snapshot of the encoder counters.
func (e *AudioEncoder) Stats() AudioEncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *AudioEncoder) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-e.frames:
			e.mu.Lock()
			w := e.stdin
			e.mu.Unlock()
			if w == nil {
				e.mu.Lock()
				e.stats.DroppedChunks++
				e.mu.Unlock()
				continue
			}
			if _, err := w.Write(data); err != nil {
				e.log.Debug("encoder feed failed", "error", err)
			}
		}
	}
}

func (e *AudioEncoder) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := time.Second
	for ctx.Err() == nil {
		start := time.Now()
		err := e.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		e.stats.Restarts++
		e.mu.Unlock()
		e.log.Error("audio encoder exited, restarting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		} else if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (e *AudioEncoder) runOnce(ctx context.Context) error {
	proc, err := startFFmpegPipe(ctx, e.log, e.buildArgs())
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stdin = proc.stdin
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stdin = nil
		e.mu.Unlock()
		proc.shutdown(2 * time.Second)
	}()

	ogg, _, err := oggreader.NewWith(proc.stdout)
	if err != nil {
		return err
	}

	var lastGranule uint64
	for {
		payload, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		// The comment header page carries no audio.
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			lastGranule = header.GranulePosition
			continue
		}

		sampleCount := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(sampleCount) * time.Second / opusGranuleRate
		if duration <= 0 || duration > 120*time.Millisecond {
			duration = 20 * time.Millisecond
		}

		e.mu.Lock()
		e.stats.Packets++
		e.mu.Unlock()

		e.out.Publish(pipeline.AudioSample{
			Data:     append([]byte(nil), payload...),
			Duration: duration,
		})
	}
}

func (e *AudioEncoder) buildArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", e.cfg.SampleRate),
		"-ac", fmt.Sprintf("%d", e.cfg.Channels),
		"-i", "-",
		"-c:a", "libopus",
		"-b:a", e.cfg.Bitrate,
		"-ar", "48000",
		"-ac", "2",
		"-page_duration", "20000",
		"-f", "ogg",
		"-",
	}
}
