package motor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu       sync.Mutex
	frames   [][FrameSize]byte
	failures int
	closed   bool
}

func (l *fakeLink) Send(frame [FrameSize]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return errors.New("wire down")
	}
	l.frames = append(l.frames, frame)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) sent() [][FrameSize]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][FrameSize]byte, len(l.frames))
	copy(out, l.frames)
	return out
}

func TestControllerDrainsInOrder(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(10, 20))
	require.NoError(t, c.Submit(30, 40))
	require.NoError(t, c.Submit(50, 60))

	require.Eventually(t, func() bool {
		return len(link.sent()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	frames := link.sent()
	assert.Equal(t, BuildFrame(10, 20), frames[0])
	assert.Equal(t, BuildFrame(30, 40), frames[1])
	assert.Equal(t, BuildFrame(50, 60), frames[2])
}

func TestControllerClampsSubmissions(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(1000, -1000))

	require.Eventually(t, func() bool {
		return len(link.sent()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, BuildFrame(255, -255), link.sent()[0])
}

func TestControllerQueueDropsOldest(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 2)

	// No drain loop running, so the queue fills.
	require.NoError(t, c.Submit(1, 1))
	require.NoError(t, c.Submit(2, 2))
	require.NoError(t, c.Submit(3, 3))

	st := c.Status()
	assert.Equal(t, 2, st.QueueLen)
	assert.Equal(t, uint64(1), st.QueueDropped)

	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool {
		return len(link.sent()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	frames := link.sent()
	assert.Equal(t, BuildFrame(2, 2), frames[0], "oldest command was dropped, not the newest")
	assert.Equal(t, BuildFrame(3, 3), frames[1])
}

func TestControllerEmergencyStop(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)

	require.NoError(t, c.Submit(100, 100))
	require.NoError(t, c.Submit(120, 120))

	// The stop frame goes out immediately even though the drain loop is
	// not running, and pending commands are discarded.
	require.NoError(t, c.EmergencyStop())

	frames := link.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, BuildFrame(0, 0), frames[0])

	st := c.Status()
	assert.Equal(t, 0, st.QueueLen)
	assert.True(t, st.EmergencyStop)

	err := c.Submit(50, 50)
	assert.ErrorIs(t, err, ErrEmergencyStopped)

	c.ClearEmergencyStop()
	assert.False(t, c.EmergencyStopped())
	assert.NoError(t, c.Submit(50, 50))
}

func TestControllerKeepsDrainingAfterSendFailure(t *testing.T) {
	link := &fakeLink{failures: 1}
	c := NewController(link, 8)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(11, 11))
	require.NoError(t, c.Submit(22, 22))

	require.Eventually(t, func() bool {
		return len(link.sent()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, BuildFrame(22, 22), link.sent()[0], "second command survives the first one's failure")
	assert.Equal(t, uint64(1), c.Status().CommandErrors)
}

func TestControllerTrimScalesSubmissions(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)
	c.SetTrim(0.5, 1.0, 200)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(200, 255))

	require.Eventually(t, func() bool {
		return len(link.sent()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Left is halved, right is capped by the trim ceiling.
	assert.Equal(t, BuildFrame(100, 200), link.sent()[0])
}

func TestControllerStopSendsZeroFrameAndClosesLink(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)
	c.Start(context.Background())
	c.Stop()

	frames := link.sent()
	require.NotEmpty(t, frames)
	assert.Equal(t, BuildFrame(0, 0), frames[len(frames)-1])
	assert.True(t, link.closed)
	assert.False(t, c.Status().Connected)
}

func TestControllerStatusDirection(t *testing.T) {
	link := &fakeLink{}
	c := NewController(link, 8)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Submit(150, 75))
	require.Eventually(t, func() bool {
		return c.Status().CommandsSent >= 1
	}, 2*time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, 150, st.LeftSpeed)
	assert.Equal(t, 75, st.RightSpeed)
	assert.Equal(t, "turn_right", st.Direction)
	assert.False(t, st.LastCommandAt.IsZero())
}
