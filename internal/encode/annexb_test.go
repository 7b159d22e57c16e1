package encode

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	naluAUD    = 0x09
	naluSPS    = 0x67
	naluPPS    = 0x68
	naluIDR    = 0x65
	naluNonIDR = 0x41
)

// accessUnit builds an Annex-B access unit from NALU header bytes, each
// NALU padded with a small payload.
func accessUnit(headers ...byte) []byte {
	var buf bytes.Buffer
	for _, h := range headers {
		buf.Write(startCode4)
		buf.WriteByte(h)
		buf.Write([]byte{0xDE, 0xAD})
	}
	return buf.Bytes()
}

func TestSplitAccessUnit(t *testing.T) {
	au := accessUnit(naluAUD, naluSPS, naluPPS, naluIDR)

	nalus, err := SplitAccessUnit(au)
	require.NoError(t, err)
	require.Len(t, nalus, 4)
	assert.Equal(t, byte(naluAUD), nalus[0][0])
	assert.Equal(t, byte(naluIDR), nalus[3][0])
}

func TestContainsIDR(t *testing.T) {
	key, err := SplitAccessUnit(accessUnit(naluAUD, naluSPS, naluPPS, naluIDR))
	require.NoError(t, err)
	assert.True(t, ContainsIDR(key))

	delta, err := SplitAccessUnit(accessUnit(naluAUD, naluNonIDR))
	require.NoError(t, err)
	assert.False(t, ContainsIDR(delta))
}

func TestExtractParameterSets(t *testing.T) {
	nalus, err := SplitAccessUnit(accessUnit(naluAUD, naluSPS, naluPPS, naluIDR))
	require.NoError(t, err)

	sps, pps := ExtractParameterSets(nalus)
	require.NotNil(t, sps)
	require.NotNil(t, pps)
	assert.Equal(t, byte(naluSPS), sps[0])
	assert.Equal(t, byte(naluPPS), pps[0])

	nalus, err = SplitAccessUnit(accessUnit(naluAUD, naluNonIDR))
	require.NoError(t, err)
	sps, pps = ExtractParameterSets(nalus)
	assert.Nil(t, sps)
	assert.Nil(t, pps)
}

func TestJoinNALUs(t *testing.T) {
	nalus := [][]byte{{naluSPS, 0x01}, {naluPPS, 0x02}, {naluIDR, 0x03}}
	joined := JoinNALUs(nalus)

	parsed, err := SplitAccessUnit(joined)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	for i := range nalus {
		assert.Equal(t, nalus[i], parsed[i])
	}
}

func TestAUScannerCutsAtDelimiters(t *testing.T) {
	first := accessUnit(naluAUD, naluSPS, naluPPS, naluIDR)
	second := accessUnit(naluAUD, naluNonIDR)
	third := accessUnit(naluAUD, naluNonIDR)

	var stream bytes.Buffer
	stream.Write(first)
	stream.Write(second)
	stream.Write(third)

	s := newAUScanner(&stream)

	got, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// The last unit is flushed when the stream ends.
	got, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, third, got)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestAUScannerFragmentedReads(t *testing.T) {
	first := accessUnit(naluAUD, naluIDR)
	second := accessUnit(naluAUD, naluNonIDR)

	var stream bytes.Buffer
	stream.Write(first)
	stream.Write(second)

	s := newAUScanner(iotest.OneByteReader(&stream))

	got, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestAUScannerSkipsLeadingJunk(t *testing.T) {
	au := accessUnit(naluAUD, naluIDR)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01, 0x02, 0x03})
	stream.Write(au)
	stream.Write(accessUnit(naluAUD, naluNonIDR))

	s := newAUScanner(&stream)
	got, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, au, got)
}

func TestAUScannerOversizedStream(t *testing.T) {
	// An opening delimiter followed by data that never ends in another
	// one must not buffer forever.
	var stream bytes.Buffer
	stream.Write(accessUnit(naluAUD))
	stream.Write(bytes.Repeat([]byte{0x11}, maxAccessUnitSize+1))

	s := newAUScanner(&stream)
	_, err := s.Next()
	require.True(t, errors.Is(err, ErrOversizedAccessUnit), "got %v", err)
}

func TestHardwareEncoderProbe(t *testing.T) {
	// CI machines have no Rockchip device nodes, the probe must say no
	// rather than error.
	assert.False(t, HardwareEncoderAvailable())
}
