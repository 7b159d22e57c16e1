package device

import "context"

// Device is a capture source that yields one frame per read: a complete
// JPEG for cameras, a fixed PCM chunk for the microphone. ReadFrame returns
// timeout errors (os.IsTimeout) when the source stalls, callers count those
// as read failures and retry.
type Device interface {
	Open(ctx context.Context) error
	ReadFrame() ([]byte, error)
	Close() error
	Name() string
}
