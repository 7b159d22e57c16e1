package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/util"
)

// errorThreshold is how many consecutive read failures the loop tolerates
// before it starts warning. The loop never gives up on its device, a flaky
// camera keeps getting retried.
const errorThreshold = 10

// failureBackoff spaces retries after a failed read.
const failureBackoff = 100 * time.Millisecond

// Listener receives every captured frame synchronously on the capture
// goroutine, so listeners must hand work off quickly.
type Listener func(media.Frame)

// LoopStats is a snapshot of one capture loop's counters. FPS covers the
// most recent one second window.
type LoopStats struct {
	FPS                 int    `json:"fps"`
	Frames              uint64 `json:"frames"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// CaptureLoop drives one device: frames land in the ring and fan out to
// listeners. The loop keeps a rolling one second fps figure and counts
// read failures.
type CaptureLoop struct {
	device Device
	source media.SourceKind
	ring   *media.Ring
	log    *slog.Logger
	width  int
	height int

	mu        sync.Mutex
	listeners []Listener
	stats     LoopStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCaptureLoop ties a device to its ring. Width and height annotate
// camera frames, audio loops pass zero.
func NewCaptureLoop(dev Device, source media.SourceKind, ring *media.Ring, width, height int) *CaptureLoop {
	return &CaptureLoop{
		device: dev,
		source: source,
		ring:   ring,
		log:    util.Component("capture").With("device", dev.Name()),
		width:  width,
		height: height,
	}
}

// Ring returns the loop's frame buffer.
func (l *CaptureLoop) Ring() *media.Ring { return l.ring }

// Source returns the loop's source kind.
func (l *CaptureLoop) Source() media.SourceKind { return l.source }

// AddListener registers a synchronous frame listener.
func (l *CaptureLoop) AddListener(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Start launches the capture goroutine. Calling Start twice is a no-op.
func (l *CaptureLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go l.run(ctx, done)
	l.log.Info("capture loop started")
}

// Stop halts the capture goroutine. The device stays open, Close it
// separately.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	l.log.Info("capture loop stopped")
}

// Stats returns a snapshot of the loop counters.
func (l *CaptureLoop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *CaptureLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var seq uint64
	windowStart := time.Now()
	windowFrames := 0
	consecutive := 0

	for ctx.Err() == nil {
		data, err := l.device.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			l.recordFailure(consecutive)
			if consecutive%errorThreshold == 0 {
				l.log.Warn("device read errors exceed threshold",
					"consecutive", consecutive, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(failureBackoff):
			}
			continue
		}
		consecutive = 0
		seq++
		l.recordSuccess()

		frame := media.Frame{
			Source:    l.source,
			Data:      data,
			Width:     l.width,
			Height:    l.height,
			Seq:       seq,
			Timestamp: time.Now(),
		}
		l.ring.Push(frame)
		for _, fn := range l.snapshotListeners() {
			fn(frame)
		}

		windowFrames++
		if time.Since(windowStart) >= time.Second {
			l.recordFPS(windowFrames)
			windowFrames = 0
			windowStart = time.Now()
		}
	}
}

func (l *CaptureLoop) snapshotListeners() []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Listener, len(l.listeners))
	copy(out, l.listeners)
	return out
}

func (l *CaptureLoop) recordFailure(consecutive int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Failures++
	l.stats.ConsecutiveFailures = consecutive
}

func (l *CaptureLoop) recordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Frames++
	l.stats.ConsecutiveFailures = 0
}

func (l *CaptureLoop) recordFPS(frames int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.FPS = frames
}
