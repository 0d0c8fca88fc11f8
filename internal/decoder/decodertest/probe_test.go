package decodertest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/h264"
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

func TestProbeBackend(t *testing.T) {
	t.Parallel()
	b, err := NewBackend()
	require.NoError(t, err)

	require.NoError(t, b.Send(annexB(testIDR)))
	_, err = b.Receive()
	assert.ErrorIs(t, err, decoder.ErrAgain, "no picture before parameter sets")

	require.NoError(t, b.Send(annexB(testSPS, testPPS, testIDR)))
	pic, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, decoder.FormatI420, pic.Format)
	assert.Equal(t, 256, pic.Width)
	assert.Equal(t, 192, pic.Height)
	first := pic.Planes[0][0]

	_, err = b.Receive()
	assert.ErrorIs(t, err, decoder.ErrAgain)

	require.NoError(t, b.Send(annexB(testSlice)))
	pic, err = b.Receive()
	require.NoError(t, err)
	assert.NotEqual(t, first, pic.Planes[0][0])

	assert.Error(t, b.Send([]byte{0xFF, 0xFF}))
	assert.Error(t, b.Send(annexB([]byte{0x67, 0x00})), "truncated SPS")

	require.NoError(t, b.Close())
	assert.Error(t, b.Send(annexB(testSlice)))
	_, err = b.Receive()
	assert.Error(t, err)
}

func TestProbeBackendRejectsOversizedSPS(t *testing.T) {
	t.Parallel()
	b, err := NewBackend()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Send(annexB(testSPS, testPPS, testIDR)))
	_, err = b.Receive()
	require.NoError(t, err)

	assert.ErrorIs(t, b.Send(annexB(oversizedSPS, testPPS, testIDR)), h264.ErrPictureTooLarge)
	_, err = b.Receive()
	assert.ErrorIs(t, err, decoder.ErrAgain)

	require.NoError(t, b.Send(annexB(testSlice)))
	pic, err := b.Receive()
	require.NoError(t, err, "previous parameter sets stay in effect")
	assert.Equal(t, 256, pic.Width)
}
