package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionForAction(t *testing.T) {
	for action, want := range map[string]Direction{
		"forward":    DirectionForward,
		"backward":   DirectionBackward,
		"turn_left":  DirectionLeft,
		"turn_right": DirectionRight,
		"stop":       DirectionStop,
	} {
		got, ok := DirectionForAction(action)
		require.True(t, ok, "action %q", action)
		assert.Equal(t, want, got)
		assert.Equal(t, action, got.Name())
	}

	_, ok := DirectionForAction("switch_front")
	assert.False(t, ok, "camera actions are not movements")
}

func TestDirectionWheels(t *testing.T) {
	cases := []struct {
		dir         Direction
		speed       int
		left, right int
	}{
		{DirectionForward, 200, 200, 200},
		{DirectionBackward, 200, -200, -200},
		{DirectionLeft, 150, 75, 150},
		{DirectionRight, 150, 150, 75},
		{DirectionLeft, 151, 75, 151},
		{DirectionStop, 200, 0, 0},
		{DirectionForward, 400, 255, 255},
		{DirectionForward, -200, 200, 200},
	}
	for _, tc := range cases {
		left, right := tc.dir.Wheels(tc.speed)
		assert.Equal(t, tc.left, left, "%s speed=%d left", tc.dir.Name(), tc.speed)
		assert.Equal(t, tc.right, right, "%s speed=%d right", tc.dir.Name(), tc.speed)
	}
}

func TestDirectionForWheels(t *testing.T) {
	assert.Equal(t, DirectionStop, DirectionForWheels(0, 0))
	assert.Equal(t, DirectionForward, DirectionForWheels(200, 200))
	assert.Equal(t, DirectionBackward, DirectionForWheels(-200, -200))
	assert.Equal(t, DirectionLeft, DirectionForWheels(75, 150))
	assert.Equal(t, DirectionRight, DirectionForWheels(150, 75))
}
