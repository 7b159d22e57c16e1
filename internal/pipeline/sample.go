package pipeline

import "time"

// VideoSample is one encoded H264 access unit in Annex-B form. IsKey marks
// access units containing an IDR slice.
type VideoSample struct {
	Data     []byte
	IsKey    bool
	Duration time.Duration
}

// AudioSample is one encoded Opus packet.
type AudioSample struct {
	Data     []byte
	Duration time.Duration
}
