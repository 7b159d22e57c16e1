package motor

import "github.com/vishalkuo/bimap"

// Direction labels the rover's gross motion for control dispatch and status
// reporting.
type Direction int

const (
	DirectionStop Direction = iota
	DirectionForward
	DirectionBackward
	DirectionLeft
	DirectionRight
)

// actionNames maps movement actions as they appear on the control channel
// to directions, and back for status output.
var actionNames = bimap.NewBiMapFromMap(map[string]Direction{
	"stop":       DirectionStop,
	"forward":    DirectionForward,
	"backward":   DirectionBackward,
	"turn_left":  DirectionLeft,
	"turn_right": DirectionRight,
})

// DirectionForAction resolves a control channel action name. The second
// return is false for actions that are not movements.
func DirectionForAction(action string) (Direction, bool) {
	return actionNames.Get(action)
}

// Name returns the control channel spelling of the direction.
func (d Direction) Name() string {
	name, ok := actionNames.GetInverse(d)
	if !ok {
		return "unknown"
	}
	return name
}

// Wheels returns the left/right speed pair that implements the direction at
// the given speed. Turns run the inner track at half speed.
func (d Direction) Wheels(speed int) (left, right int) {
	if speed < 0 {
		speed = -speed
	}
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	switch d {
	case DirectionForward:
		return speed, speed
	case DirectionBackward:
		return -speed, -speed
	case DirectionLeft:
		return speed / 2, speed
	case DirectionRight:
		return speed, speed / 2
	default:
		return 0, 0
	}
}

// DirectionForWheels labels an arbitrary wheel pair.
func DirectionForWheels(left, right int) Direction {
	switch {
	case left == 0 && right == 0:
		return DirectionStop
	case left == right && left > 0:
		return DirectionForward
	case left == right && left < 0:
		return DirectionBackward
	case left < right:
		return DirectionLeft
	default:
		return DirectionRight
	}
}
