package encode

import (
	"bytes"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

var startCode3 = []byte{0x00, 0x00, 0x01}
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// ErrOversizedAccessUnit reports a stream that ran past the buffering limit
// without an access unit boundary.
var ErrOversizedAccessUnit = errors.New("h264: access unit exceeds size limit")

const maxAccessUnitSize = 16 << 20

// SplitAccessUnit parses an Annex-B access unit into its NAL units.
func SplitAccessUnit(au []byte) ([][]byte, error) {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(au); err != nil {
		return nil, errors.Wrap(err, "parse access unit")
	}
	return [][]byte(annexB), nil
}

// ContainsIDR reports whether any NAL unit is an IDR slice.
func ContainsIDR(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ExtractParameterSets returns the SPS and PPS NAL units when present.
func ExtractParameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}

// JoinNALUs assembles NAL units into one Annex-B buffer with four byte
// start codes.
func JoinNALUs(nalus [][]byte) []byte {
	size := 0
	for _, nalu := range nalus {
		size += len(startCode4) + len(nalu)
	}
	out := make([]byte, 0, size)
	for _, nalu := range nalus {
		out = append(out, startCode4...)
		out = append(out, nalu...)
	}
	return out
}

// auScanner cuts an Annex-B byte stream into access units at access unit
// delimiter NALUs. The encoders are configured to insert an AUD in front of
// every frame, so one AU corresponds to one encoded picture.
type auScanner struct {
	r   io.Reader
	buf []byte
}

func newAUScanner(r io.Reader) *auScanner {
	return &auScanner{r: r}
}

// Next returns the next access unit including its leading AUD. The
// returned slice is owned by the caller.
func (s *auScanner) Next() ([]byte, error) {
	for {
		if au, err := s.extract(); au != nil || err != nil {
			return au, err
		}
		chunk := make([]byte, 64*1024)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if au := s.flush(); au != nil {
				return au, nil
			}
			return nil, err
		}
	}
}

// extract pops one complete access unit, returns (nil, nil) when more data
// is needed.
func (s *auScanner) extract() ([]byte, error) {
	first := findAUD(s.buf, 0)
	if first < 0 {
		// Nothing before the first AUD is a frame. Keep a tail in case a
		// start code straddles the read boundary.
		if len(s.buf) > maxAccessUnitSize {
			s.buf = nil
			return nil, ErrOversizedAccessUnit
		}
		if len(s.buf) > 5 {
			s.buf = s.buf[len(s.buf)-5:]
		}
		return nil, nil
	}
	if first > 0 {
		s.buf = s.buf[first:]
	}

	next := findAUD(s.buf, 5)
	if next < 0 {
		if len(s.buf) > maxAccessUnitSize {
			s.buf = nil
			return nil, ErrOversizedAccessUnit
		}
		return nil, nil
	}

	au := make([]byte, next)
	copy(au, s.buf[:next])
	s.buf = append(s.buf[:0], s.buf[next:]...)
	return au, nil
}

// flush returns whatever complete-looking tail remains, used at stream end.
func (s *auScanner) flush() []byte {
	first := findAUD(s.buf, 0)
	if first < 0 {
		return nil
	}
	au := make([]byte, len(s.buf)-first)
	copy(au, s.buf[first:])
	s.buf = nil
	return au
}

// findAUD returns the index where the start code of the next access unit
// delimiter begins, searching from offset `from`. A negative return means
// none was found in the buffered data.
func findAUD(buf []byte, from int) int {
	i := from
	for {
		j := bytes.Index(buf[i:], startCode3)
		if j < 0 {
			return -1
		}
		pos := i + j
		naluStart := pos + len(startCode3)
		if naluStart >= len(buf) {
			return -1
		}
		if h264.NALUType(buf[naluStart]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			if pos > 0 && buf[pos-1] == 0x00 {
				return pos - 1
			}
			return pos
		}
		i = naluStart
	}
}
