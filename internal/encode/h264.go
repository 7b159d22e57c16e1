package encode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/util"
)

// rkmppDeviceNodes are the Rockchip MPP device files. Their presence is the
// cheap probe for the h264_rkmpp hardware encoder.
var rkmppDeviceNodes = []string{"/dev/mpp_service", "/dev/rga"}

// HardwareEncoderAvailable reports whether the Rockchip hardware encoder
// can be used on this board.
func HardwareEncoderAvailable() bool {
	for _, node := range rkmppDeviceNodes {
		if _, err := os.Stat(node); err != nil {
			return false
		}
	}
	return true
}

// VideoEncoderConfig describes the H264 encode stage.
type VideoEncoderConfig struct {
	Width     int
	Height    int
	Framerate int
	Bitrate   string
	// Hardware selects the encoder: "rkmpp", "software" or "auto" to
	// probe the board.
	Hardware string
}

// VideoEncoderStats is a snapshot of the encoder counters.
type VideoEncoderStats struct {
	Hardware      bool   `json:"hardware"`
	AccessUnits   uint64 `json:"access_units"`
	Keyframes     uint64 `json:"keyframes"`
	DroppedFrames uint64 `json:"dropped_frames"`
	Restarts      uint64 `json:"restarts"`
}

// VideoEncoder turns JPEG frames into H264 access units. A single ffmpeg
// process consumes MJPEG on stdin and produces Annex-B H264 with access
// unit delimiters on stdout. Encoded access units fan out through a
// broadcaster to WebRTC sessions. A crashed encoder restarts with backoff,
// frames submitted meanwhile are dropped.
type VideoEncoder struct {
	cfg      VideoEncoderConfig
	hardware bool
	log      *slog.Logger
	out      *pipeline.Broadcaster[pipeline.VideoSample]

	frames chan []byte

	mu       sync.Mutex
	stdin    stdinWriter
	sps      []byte
	pps      []byte
	stats    VideoEncoderStats
	cancel   context.CancelFunc
	done     chan struct{}
}

type stdinWriter interface {
	Write(p []byte) (int, error)
}

// NewVideoEncoder prepares the encode stage. Start launches it.
func NewVideoEncoder(cfg VideoEncoderConfig) *VideoEncoder {
	hardware := false
	switch cfg.Hardware {
	case "rkmpp":
		hardware = true
	case "software":
		hardware = false
	default:
		hardware = HardwareEncoderAvailable()
	}
	if cfg.Framerate <= 0 {
		cfg.Framerate = 30
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "2M"
	}
	return &VideoEncoder{
		cfg:      cfg,
		hardware: hardware,
		log:      util.Component("h264"),
		out:      pipeline.NewBroadcaster[pipeline.VideoSample](),
		frames:   make(chan []byte, 8),
	}
}

// Start launches the encoder process, the feed pump and the restart
// supervisor.
func (e *VideoEncoder) Start(ctx context.Context) {
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
	e.log.Info("video encoder started",
		"hardware", e.hardware,
		"resolution", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
		"bitrate", e.cfg.Bitrate)
}

// Stop shuts the encoder down.
func (e *VideoEncoder) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.log.Info("video encoder stopped")
}

// SubmitFrame hands a captured JPEG to the encoder. It never blocks, when
// the encoder cannot keep up the frame is dropped and counted.
func (e *VideoEncoder) SubmitFrame(frame media.Frame) {
	select {
	case e.frames <- frame.Data:
	default:
		e.mu.Lock()
		e.stats.DroppedFrames++
		e.mu.Unlock()
	}
}

// Subscribe attaches a sample consumer, identified for targeted teardown.
func (e *VideoEncoder) Subscribe(id string, buffer int) <-chan pipeline.VideoSample {
	return e.out.Subscribe(id, buffer)
}

// Unsubscribe detaches a sample consumer.
func (e *VideoEncoder) Unsubscribe(id string) {
	e.out.Unsubscribe(id)
}

// ParameterSets returns the latest SPS and PPS seen in the stream, nil
// until the first keyframe.
func (e *VideoEncoder) ParameterSets() (sps, pps []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sps != nil {
		sps = append([]byte(nil), e.sps...)
	}
	if e.pps != nil {
		pps = append([]byte(nil), e.pps...)
	}
	return sps, pps
}

// FrameDuration returns the nominal duration of one encoded frame.
func (e *VideoEncoder) FrameDuration() time.Duration {
	return time.Second / time.Duration(e.cfg.Framerate)
}

// Stats returns a snapshot of the encoder counters.
func (e *VideoEncoder) Stats() VideoEncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.Hardware = e.hardware
	return st
}

// pump feeds queued JPEG frames into the current encoder process.
func (e *VideoEncoder) pump(ctx context.Context) {
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
				e.stats.DroppedFrames++
				e.mu.Unlock()
				continue
			}
			if _, err := w.Write(data); err != nil {
				// The supervisor notices the dead process through the
				// reader, here the frame is just lost.
				e.log.Debug("encoder feed failed", "error", err)
			}
		}
	}
}

func (e *VideoEncoder) supervise(ctx context.Context, done chan struct{}) {
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
		e.log.Error("video encoder exited, restarting", "error", err, "backoff", backoff)

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

func (e *VideoEncoder) runOnce(ctx context.Context) error {
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

	scanner := newAUScanner(proc.stdout)
	for {
		au, err := scanner.Next()
		if err != nil {
			return err
		}
		e.handleAccessUnit(au)
	}
}

func (e *VideoEncoder) handleAccessUnit(au []byte) {
	nalus, err := SplitAccessUnit(au)
	if err != nil {
		e.log.Debug("unparseable access unit", "error", err)
		return
	}
	isKey := ContainsIDR(nalus)
	if sps, pps := ExtractParameterSets(nalus); sps != nil && pps != nil {
		e.mu.Lock()
		e.sps = append([]byte(nil), sps...)
		e.pps = append([]byte(nil), pps...)
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.stats.AccessUnits++
	if isKey {
		e.stats.Keyframes++
	}
	e.mu.Unlock()

	e.out.Publish(pipeline.VideoSample{
		Data:     au,
		IsKey:    isKey,
		Duration: e.FrameDuration(),
	})
}

func (e *VideoEncoder) buildArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "mjpeg",
		"-r", fmt.Sprintf("%d", e.cfg.Framerate),
		"-i", "-",
	}
	if e.hardware {
		args = append(args,
			"-c:v", "h264_rkmpp",
			"-b:v", e.cfg.Bitrate,
		)
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-pix_fmt", "yuv420p",
			"-profile:v", "baseline",
			"-level:v", "3.1",
			"-b:v", e.cfg.Bitrate,
		)
	}
	return append(args,
		"-g", fmt.Sprintf("%d", e.cfg.Framerate),
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"-",
	)
}
