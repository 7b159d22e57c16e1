package motor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/util"
)

// ErrEmergencyStopped is returned by Submit while the emergency stop latch
// is engaged.
var ErrEmergencyStopped = errors.New("motor: emergency stop engaged")

// drainInterval sets the wire command rate to 100 Hz, the driver board's
// safe maximum.
const drainInterval = 10 * time.Millisecond

type command struct {
	left  int
	right int
}

// Controller owns the link to the driver board. Submissions land in a
// bounded queue that a 100 Hz drain loop feeds to the wire, so command
// bursts from the network never exceed the bus rate. On overflow the oldest
// pending command is dropped, a newer command always wins.
type Controller struct {
	link    Link
	log     *slog.Logger
	stopped atomic.Bool

	mu         sync.Mutex
	queue      []command
	queueCap   int
	dropped    uint64
	lastLeft   int
	lastRight  int
	sent       uint64
	sendErrors uint64
	lastSendAt time.Time
	closed     bool

	trimLeftScale  float64
	trimRightScale float64
	trimMaxSpeed   int

	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Connected     bool      `json:"connected"`
	LeftSpeed     int       `json:"left_speed"`
	RightSpeed    int       `json:"right_speed"`
	Direction     string    `json:"direction"`
	CommandsSent  uint64    `json:"commands_sent"`
	CommandErrors uint64    `json:"command_errors"`
	LastCommandAt time.Time `json:"last_command_at"`
	QueueLen      int       `json:"queue_len"`
	QueueDropped  uint64    `json:"queue_dropped"`
	EmergencyStop bool      `json:"emergency_stop"`
}

// NewController wraps an open link. queueSize bounds the pending command
// queue.
func NewController(link Link, queueSize int) *Controller {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Controller{
		link:           link,
		log:            util.Component("motor"),
		queueCap:       queueSize,
		trimLeftScale:  1,
		trimRightScale: 1,
		trimMaxSpeed:   MaxSpeed,
	}
}

// Start launches the drain loop. Calling Start twice is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.drainLoop(ctx, done)
	c.log.Info("motor controller started", "rate_hz", int(time.Second/drainInterval))
}

// Stop halts the drain loop, puts a final zero frame on the wire and closes
// the link.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	_ = c.transmit(0, 0)

	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		if err := c.link.Close(); err != nil {
			c.log.Error("close motor link", "error", err)
		}
	}
	c.log.Info("motor controller stopped")
}

// Submit queues a wheel speed pair after clamping both values to
// [-255, 255] and applying trim. It never blocks: a full queue drops its
// oldest entry to make room. The only refusal is an engaged emergency stop.
func (c *Controller) Submit(left, right int) error {
	if c.stopped.Load() {
		return ErrEmergencyStopped
	}
	left = ClampSpeed(left)
	right = ClampSpeed(right)

	c.mu.Lock()
	defer c.mu.Unlock()
	left = scaleSpeed(left, c.trimLeftScale, c.trimMaxSpeed)
	right = scaleSpeed(right, c.trimRightScale, c.trimMaxSpeed)
	if len(c.queue) >= c.queueCap {
		over := len(c.queue) - c.queueCap + 1
		c.queue = c.queue[over:]
		c.dropped += uint64(over)
	}
	c.queue = append(c.queue, command{left: left, right: right})
	return nil
}

// EmergencyStop discards every pending command and puts the zero frame on
// the wire immediately, skipping the queue. Submissions are rejected until
// ClearEmergencyStop.
func (c *Controller) EmergencyStop() error {
	c.stopped.Store(true)

	c.mu.Lock()
	discarded := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	c.log.Warn("emergency stop engaged", "discarded_commands", discarded)
	return c.transmit(0, 0)
}

// ClearEmergencyStop releases the latch so submissions flow again.
func (c *Controller) ClearEmergencyStop() {
	if c.stopped.CompareAndSwap(true, false) {
		c.log.Info("emergency stop cleared")
	}
}

// EmergencyStopped reports whether the latch is engaged.
func (c *Controller) EmergencyStopped() bool {
	return c.stopped.Load()
}

// SetTrim adjusts per-track scaling and the speed ceiling applied to every
// submission. Scales outside (0, 1] reset to 1, maxSpeed outside (0, 255]
// resets to 255.
func (c *Controller) SetTrim(leftScale, rightScale float64, maxSpeed int) {
	if leftScale <= 0 || leftScale > 1 {
		leftScale = 1
	}
	if rightScale <= 0 || rightScale > 1 {
		rightScale = 1
	}
	if maxSpeed <= 0 || maxSpeed > MaxSpeed {
		maxSpeed = MaxSpeed
	}
	c.mu.Lock()
	c.trimLeftScale = leftScale
	c.trimRightScale = rightScale
	c.trimMaxSpeed = maxSpeed
	c.mu.Unlock()
	c.log.Info("trim updated", "left_scale", leftScale, "right_scale", rightScale, "max_speed", maxSpeed)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:     !c.closed,
		LeftSpeed:     c.lastLeft,
		RightSpeed:    c.lastRight,
		Direction:     DirectionForWheels(c.lastLeft, c.lastRight).Name(),
		CommandsSent:  c.sent,
		CommandErrors: c.sendErrors,
		LastCommandAt: c.lastSendAt,
		QueueLen:      len(c.queue),
		QueueDropped:  c.dropped,
		EmergencyStop: c.stopped.Load(),
	}
}

func (c *Controller) drainLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd, ok := c.pop()
			if !ok {
				continue
			}
			// Errors are counted in transmit, the next tick moves on
			// to the next command.
			_ = c.transmit(cmd.left, cmd.right)
		}
	}
}

func (c *Controller) pop() (command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return command{}, false
	}
	cmd := c.queue[0]
	c.queue = c.queue[1:]
	return cmd, true
}

func (c *Controller) transmit(left, right int) error {
	frame := BuildFrame(left, right)
	err := c.link.Send(frame)

	c.mu.Lock()
	if err != nil {
		c.sendErrors++
	} else {
		c.sent++
		c.lastLeft = ClampSpeed(left)
		c.lastRight = ClampSpeed(right)
		c.lastSendAt = time.Now()
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrLinkUnavailable) {
			c.log.Debug("motor frame dropped, link offline")
		} else {
			c.log.Error("motor frame transmit failed", "error", err)
		}
	}
	return err
}

func scaleSpeed(speed int, scale float64, maxSpeed int) int {
	scaled := int(math.Round(float64(speed) * scale))
	if scaled > maxSpeed {
		scaled = maxSpeed
	}
	if scaled < -maxSpeed {
		scaled = -maxSpeed
	}
	return ClampSpeed(scaled)
}
