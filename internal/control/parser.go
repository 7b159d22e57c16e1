package control

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/motor"
)

// DefaultSpeed applies when a motor command omits its speed field.
const DefaultSpeed = 200

// Message is the wire form of a control command as sent by operator
// clients over the low-latency channel.
type Message struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Speed  *int   `json:"speed,omitempty"`
}

// Command is a parsed control command, one concrete variant per message
// type.
type Command interface {
	isCommand()
}

// MotorCommand moves the rover.
type MotorCommand struct {
	Direction motor.Direction
	Speed     int
}

// CameraCommand switches which camera feeds the video pipeline.
type CameraCommand struct {
	Target media.SourceKind
}

// SystemAction identifies a safety action.
type SystemAction string

const (
	SystemEmergencyStop  SystemAction = "emergency_stop"
	SystemClearEmergency SystemAction = "clear_emergency"
)

// SystemCommand carries a safety action.
type SystemCommand struct {
	Action SystemAction
}

func (MotorCommand) isCommand()  {}
func (CameraCommand) isCommand() {}
func (SystemCommand) isCommand() {}

// ErrIgnored marks messages that are well formed JSON but carry an unknown
// type or action. Callers log and drop these, they are never fatal.
var ErrIgnored = errors.New("control: ignored message")

// Parse decodes one control message into its command variant.
func Parse(data []byte) (Command, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "decode control message")
	}

	switch msg.Type {
	case "motor":
		action := msg.Action
		// Older clients spell turns without the prefix.
		switch action {
		case "left":
			action = "turn_left"
		case "right":
			action = "turn_right"
		}
		dir, ok := motor.DirectionForAction(action)
		if !ok {
			return nil, errors.Wrapf(ErrIgnored, "motor action %q", msg.Action)
		}
		speed := DefaultSpeed
		if msg.Speed != nil {
			speed = *msg.Speed
		}
		return MotorCommand{Direction: dir, Speed: speed}, nil

	case "camera":
		switch msg.Action {
		case "switch_front":
			return CameraCommand{Target: media.SourceFrontCamera}, nil
		case "switch_rear":
			return CameraCommand{Target: media.SourceRearCamera}, nil
		}
		return nil, errors.Wrapf(ErrIgnored, "camera action %q", msg.Action)

	case "system":
		switch msg.Action {
		case string(SystemEmergencyStop):
			return SystemCommand{Action: SystemEmergencyStop}, nil
		case string(SystemClearEmergency):
			return SystemCommand{Action: SystemClearEmergency}, nil
		}
		return nil, errors.Wrapf(ErrIgnored, "system action %q", msg.Action)
	}
	return nil, errors.Wrapf(ErrIgnored, "message type %q", msg.Type)
}
