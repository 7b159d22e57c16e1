package control

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/util"
)

// MotorDriver is the slice of the motor controller the dispatcher needs.
type MotorDriver interface {
	Submit(left, right int) error
	EmergencyStop() error
	ClearEmergencyStop()
}

// CameraSwitcher selects the camera feeding the video pipeline.
type CameraSwitcher interface {
	SetActive(kind media.SourceKind) error
}

// Dispatcher routes parsed control commands to the motor controller and
// the camera manager. It is safe for concurrent use from multiple peer
// sessions.
type Dispatcher struct {
	motors  MotorDriver
	cameras CameraSwitcher
	log     *slog.Logger
}

// NewDispatcher wires the command sinks.
func NewDispatcher(motors MotorDriver, cameras CameraSwitcher) *Dispatcher {
	return &Dispatcher{
		motors:  motors,
		cameras: cameras,
		log:     util.Component("control"),
	}
}

// Dispatch handles one raw control message from a peer. Malformed or
// unknown messages are logged and dropped, they never take a session down.
func (d *Dispatcher) Dispatch(peerID string, data []byte) {
	cmd, err := Parse(data)
	if err != nil {
		if errors.Is(err, ErrIgnored) {
			d.log.Debug("ignored control message", "peer", peerID, "reason", err)
		} else {
			d.log.Warn("bad control message", "peer", peerID, "error", err)
		}
		return
	}

	switch c := cmd.(type) {
	case MotorCommand:
		left, right := c.Direction.Wheels(c.Speed)
		if err := d.motors.Submit(left, right); err != nil {
			d.log.Debug("motor submission rejected", "peer", peerID, "error", err)
			return
		}
		d.log.Debug("motor command", "peer", peerID,
			"action", c.Direction.Name(), "speed", c.Speed)

	case CameraCommand:
		if err := d.cameras.SetActive(c.Target); err != nil {
			d.log.Warn("camera switch failed", "peer", peerID, "error", err)
			return
		}
		d.log.Info("camera switched", "peer", peerID, "camera", string(c.Target))

	case SystemCommand:
		switch c.Action {
		case SystemEmergencyStop:
			d.log.Warn("emergency stop received", "peer", peerID)
			if err := d.motors.EmergencyStop(); err != nil {
				d.log.Error("emergency stop transmit failed", "error", err)
			}
		case SystemClearEmergency:
			d.log.Info("emergency stop clear received", "peer", peerID)
			d.motors.ClearEmergencyStop()
		}
	}
}
