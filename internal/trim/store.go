// Package trim persists drive calibration. Tracked chassis rarely run
// both motors at identical speed for the same command byte, so the
// profile scales each track and caps the ceiling to make "forward"
// actually go straight.
package trim

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/motor"
)

// Profile is the persisted calibration. Scales multiply each track's
// commanded speed, MaxSpeed caps the scaled result.
type Profile struct {
	LeftScale  float64 `toml:"left_scale" json:"left_scale"`
	RightScale float64 `toml:"right_scale" json:"right_scale"`
	MaxSpeed   int     `toml:"max_speed" json:"max_speed"`
}

// DefaultProfile is the identity calibration.
func DefaultProfile() Profile {
	return Profile{LeftScale: 1, RightScale: 1, MaxSpeed: motor.MaxSpeed}
}

// Normalize resets out-of-range values to their defaults, the same
// rules the motor controller applies on SetTrim. Persisted files edited
// by hand get cleaned up on the next load.
func (p Profile) Normalize() Profile {
	if p.LeftScale <= 0 || p.LeftScale > 1 {
		p.LeftScale = 1
	}
	if p.RightScale <= 0 || p.RightScale > 1 {
		p.RightScale = 1
	}
	if p.MaxSpeed <= 0 || p.MaxSpeed > motor.MaxSpeed {
		p.MaxSpeed = motor.MaxSpeed
	}
	return p
}

// Store reads and writes the calibration file.
type Store struct {
	path string
}

// NewStore uses the given file path, or the default under the rover
// home directory when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = filepath.Join(config.HomeDir(), "trim.toml")
	}
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads the calibration file. A missing file is not an error, the
// default profile applies until one is saved.
func (s *Store) Load() (Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(), nil
		}
		return DefaultProfile(), errors.Wrap(err, "read trim profile")
	}
	if len(data) == 0 {
		return DefaultProfile(), nil
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return DefaultProfile(), errors.Wrap(err, "parse trim profile")
	}
	return p.Normalize(), nil
}

// Save writes the calibration file, creating the directory if needed.
func (s *Store) Save(p Profile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create trim directory")
	}
	data, err := toml.Marshal(p.Normalize())
	if err != nil {
		return errors.Wrap(err, "serialize trim profile")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrap(err, "write trim profile")
	}
	return nil
}
