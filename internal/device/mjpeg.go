package device

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ErrOversizedFrame reports a frame that exceeded the scanner's size guard,
// usually a corrupted stream that lost its end marker.
var ErrOversizedFrame = errors.New("mjpeg: frame exceeds size limit")

// maxJPEGSize bounds buffering for a single image. 1280x720 MJPEG frames
// run a few hundred kilobytes, anything past this is stream corruption.
const maxJPEGSize = 8 << 20

// MJPEGScanner splits a concatenated MJPEG byte stream into complete JPEG
// images, dropping garbage between end and start markers.
type MJPEGScanner struct {
	r   io.Reader
	buf []byte
}

// NewMJPEGScanner wraps r, which must produce back-to-back JPEG images.
func NewMJPEGScanner(r io.Reader) *MJPEGScanner {
	return &MJPEGScanner{r: r}
}

// Next returns the next complete image including its SOI/EOI markers. The
// returned slice is owned by the caller. Timeout errors from the underlying
// reader pass through, so callers can retry.
func (s *MJPEGScanner) Next() ([]byte, error) {
	for {
		if img, err := s.extract(); img != nil || err != nil {
			return img, err
		}
		chunk := make([]byte, 32*1024)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			// A complete image may have arrived together with the error.
			if img, extractErr := s.extract(); img != nil || extractErr != nil {
				if img != nil {
					return img, nil
				}
				return nil, extractErr
			}
			return nil, err
		}
	}
}

// extract pops one complete image from the buffer, returns (nil, nil) when
// more data is needed.
func (s *MJPEGScanner) extract() ([]byte, error) {
	start := bytes.Index(s.buf, jpegSOI)
	if start < 0 {
		// No start marker yet. Keep the last byte, it may be the first
		// half of a marker split across reads.
		if len(s.buf) > 1 {
			s.buf = s.buf[len(s.buf)-1:]
		}
		return nil, nil
	}
	if start > 0 {
		s.buf = s.buf[start:]
	}

	end := bytes.Index(s.buf[2:], jpegEOI)
	if end < 0 {
		if len(s.buf) > maxJPEGSize {
			s.buf = nil
			return nil, ErrOversizedFrame
		}
		return nil, nil
	}

	frameEnd := 2 + end + len(jpegEOI)
	img := make([]byte, frameEnd)
	copy(img, s.buf[:frameEnd])
	s.buf = append(s.buf[:0], s.buf[frameEnd:]...)
	return img, nil
}
