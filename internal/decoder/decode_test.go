package decoder_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/decoder/decodertest"
	"github.com/zsiec/airsink/internal/media"
)

var (
	testSPS = []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	// oversizedSPS announces 67108880x67108880.
	oversizedSPS = []byte{
		0x67, 0x42, 0x00, 0x1F, 0xDA, 0x00, 0x00, 0x03,
		0x01, 0x00, 0x00, 0x04, 0x00, 0x00, 0x08, 0x00,
		0x00, 0x39,
	}
	testPPS   = []byte{0x68, 0xCE, 0x38, 0x80}
	testIDR   = []byte{0x65, 0x88, 0x84, 0x00, 0xFF}
	testSlice = []byte{0x41, 0x9A, 0x02, 0x04}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func avcc(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

func newProbeDecoder(t *testing.T, pool *media.FramePool) *decoder.Decoder {
	t.Helper()
	d, err := decoder.New(decoder.Config{NewBackend: decodertest.NewBackend, Pool: pool})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDecodeKeyframe(t *testing.T) {
	t.Parallel()
	pool := media.NewFramePool()
	d := newProbeDecoder(t, pool)

	frame, err := d.Decode(annexB(testSPS, testPPS, testIDR))
	require.NoError(t, err)
	require.NotNil(t, frame)
	defer frame.Release()

	assert.Equal(t, 256, frame.Width)
	assert.Equal(t, 192, frame.Height)
	assert.Equal(t, 256*4, frame.Stride)
	assert.Len(t, frame.Pix, media.Size(256, 192))
	assert.Equal(t, byte(0xFF), frame.Pix[3], "alpha")
	assert.Equal(t, int64(1), d.Stats().Decoded)
}

func TestDecodeNeedsMoreInput(t *testing.T) {
	t.Parallel()
	d := newProbeDecoder(t, nil)

	frame, err := d.Decode(annexB(testSlice))
	assert.NoError(t, err)
	assert.Nil(t, frame)
	assert.Zero(t, d.Stats().Errors)
}

func TestDecodeAVCCInput(t *testing.T) {
	t.Parallel()
	d := newProbeDecoder(t, nil)

	frame, err := d.Decode(avcc(testSPS, testPPS, testIDR))
	require.NoError(t, err)
	require.NotNil(t, frame)
	frame.Release()

	frame, err = d.Decode(avcc(testSlice))
	require.NoError(t, err)
	require.NotNil(t, frame)
	frame.Release()
}

func TestDecodeSPSSize(t *testing.T) {
	t.Parallel()
	d := newProbeDecoder(t, nil)

	_, _, ok := d.SPSSize()
	assert.False(t, ok)

	_, err := d.Decode(annexB(testSPS, testPPS))
	require.NoError(t, err)

	w, h, ok := d.SPSSize()
	require.True(t, ok)
	assert.Equal(t, 256, w)
	assert.Equal(t, 192, h)
}

func TestDecodeErrorIsTransient(t *testing.T) {
	t.Parallel()
	d := newProbeDecoder(t, nil)

	_, err := d.Decode([]byte{0x00, 0x00, 0x00, 0x01})
	var derr *decoder.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 1, derr.Streak)

	frame, err := d.Decode(annexB(testSPS, testPPS, testIDR))
	require.NoError(t, err)
	require.NotNil(t, frame)
	frame.Release()
}

func TestDecodeOversizedSPSIsDecodeError(t *testing.T) {
	t.Parallel()
	pool := media.NewFramePool()
	d := newProbeDecoder(t, pool)

	frame, err := d.Decode(annexB(oversizedSPS, testPPS, testIDR))
	assert.Nil(t, frame)
	var derr *decoder.DecodeError
	require.ErrorAs(t, err, &derr)

	_, _, ok := d.SPSSize()
	assert.False(t, ok, "oversized SPS must not be announced")
	assert.Zero(t, pool.Stats().Allocs)

	frame, err = d.Decode(annexB(testSPS, testPPS, testIDR))
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, 256, frame.Width)
	frame.Release()
}
