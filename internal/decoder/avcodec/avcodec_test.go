package avcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/airsink/internal/decoder"
)

var (
	testSPS = []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestParameterSetsProduceNoPicture(t *testing.T) {
	t.Parallel()
	b, err := NewBackend()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Send(annexB(testSPS, testPPS)))
	_, err = b.Receive()
	assert.ErrorIs(t, err, decoder.ErrAgain)
}

func TestDecoderWithParameterSetsOnly(t *testing.T) {
	t.Parallel()
	d, err := decoder.New(decoder.Config{NewBackend: NewBackend})
	require.NoError(t, err)
	defer d.Close()

	frame, err := d.Decode(annexB(testSPS, testPPS))
	require.NoError(t, err)
	assert.Nil(t, frame, "no picture before a coded slice")

	w, h, ok := d.SPSSize()
	require.True(t, ok)
	assert.Equal(t, 256, w)
	assert.Equal(t, 192, h)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	b, err := NewBackend()
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Error(t, b.Send(annexB(testSPS)))
	_, err = b.Receive()
	assert.Error(t, err)
}
