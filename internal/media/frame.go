package media

import "time"

// SourceKind identifies which capture device produced a frame.
type SourceKind string

const (
	SourceFrontCamera SourceKind = "front"
	SourceRearCamera  SourceKind = "rear"
	SourceMicrophone  SourceKind = "mic"
)

// Frame is one captured unit from a device: a complete JPEG image for
// cameras, a PCM chunk for the microphone. Frames are treated as immutable
// once created, readers share the Data slice.
type Frame struct {
	Source    SourceKind
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}
