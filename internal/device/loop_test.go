package device

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlink/rover/internal/media"
)

// chanDevice yields frames pushed into its channel and times out like a
// real device when nothing arrives.
type chanDevice struct {
	name    string
	frames  chan []byte
	openErr error
	closed  bool
}

func newChanDevice(name string) *chanDevice {
	return &chanDevice{name: name, frames: make(chan []byte, 16)}
}

func (d *chanDevice) Open(ctx context.Context) error { return d.openErr }

func (d *chanDevice) ReadFrame() ([]byte, error) {
	select {
	case f, ok := <-d.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-time.After(20 * time.Millisecond):
		return nil, os.ErrDeadlineExceeded
	}
}

func (d *chanDevice) Close() error {
	d.closed = true
	return nil
}

func (d *chanDevice) Name() string { return d.name }

type frameCollector struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (c *frameCollector) add(f media.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *frameCollector) snapshot() []media.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestCaptureLoopDeliversFrames(t *testing.T) {
	dev := newChanDevice("cam")
	ring := media.NewRing(3)
	loop := NewCaptureLoop(dev, media.SourceFrontCamera, ring, 640, 480)

	var collected frameCollector
	loop.AddListener(collected.add)

	loop.Start(context.Background())
	defer loop.Stop()

	dev.frames <- []byte{0x01}
	dev.frames <- []byte{0x02}

	require.Eventually(t, func() bool {
		return len(collected.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	frames := collected.snapshot()
	assert.Equal(t, []byte{0x01}, frames[0].Data)
	assert.Equal(t, []byte{0x02}, frames[1].Data)
	assert.Equal(t, media.SourceFrontCamera, frames[0].Source)
	assert.Equal(t, 640, frames[0].Width)
	assert.Equal(t, uint64(1), frames[0].Seq)
	assert.Equal(t, uint64(2), frames[1].Seq)

	latest, ok := ring.Latest()
	require.True(t, ok)
	assert.Equal(t, []byte{0x02}, latest.Data)

	assert.Equal(t, uint64(2), loop.Stats().Frames)
}

func TestCaptureLoopRetriesThroughFailures(t *testing.T) {
	dev := newChanDevice("cam")
	loop := NewCaptureLoop(dev, media.SourceFrontCamera, media.NewRing(3), 0, 0)

	loop.Start(context.Background())
	defer loop.Stop()

	// Nothing arrives, every read times out and is counted.
	require.Eventually(t, func() bool {
		return loop.Stats().Failures >= 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, loop.Stats().ConsecutiveFailures, 3)

	// The loop never gave up: a frame pushes through and resets the
	// consecutive counter.
	dev.frames <- []byte{0xAB}
	require.Eventually(t, func() bool {
		return loop.Stats().Frames == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, loop.Stats().ConsecutiveFailures)
}

func TestCaptureLoopStopReturnsPromptly(t *testing.T) {
	dev := newChanDevice("cam")
	loop := NewCaptureLoop(dev, media.SourceFrontCamera, media.NewRing(3), 0, 0)
	loop.Start(context.Background())

	stopDone := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an idle device")
	}
}

func TestCaptureLoopStartTwice(t *testing.T) {
	dev := newChanDevice("cam")
	loop := NewCaptureLoop(dev, media.SourceFrontCamera, media.NewRing(3), 0, 0)

	loop.Start(context.Background())
	loop.Start(context.Background())
	loop.Stop()
}
