package h264

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sps720p is a High profile SPS announcing 1280x720.
var sps720p = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

// sps256x192 is a Main profile SPS with cropping.
var sps256x192 = []byte{
	0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
	0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
	0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
	0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
	0x3a, 0x8e, 0x18, 0xc9,
}

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	nalus := ParseAnnexB(data)
	require.Len(t, nalus, 3)

	assert.Equal(t, byte(NALTypeSPS), nalus[0].Type)
	assert.True(t, IsSPS(nalus[0].Type))
	assert.Equal(t, byte(NALTypePPS), nalus[1].Type)
	assert.True(t, IsPPS(nalus[1].Type))
	assert.Equal(t, byte(NALTypeIDR), nalus[2].Type)
	assert.True(t, IsKeyframe(nalus[2].Type))
	assert.True(t, IsVCL(nalus[2].Type))
	assert.False(t, IsVCL(nalus[0].Type))
}

func TestParseAnnexBMixedStartCodes(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x01, 0x68, 0xCE,
		0x00, 0x00, 0x00, 0x01, 0x06, 0xFF, 0xFE,
		0x00, 0x00, 0x01, 0x65, 0x88,
	}

	nalus := ParseAnnexB(data)
	require.Len(t, nalus, 4)

	want := []byte{NALTypeSPS, NALTypePPS, NALTypeSEI, NALTypeIDR}
	for i, w := range want {
		assert.Equal(t, w, nalus[i].Type, "NALU[%d]", i)
	}
	assert.Len(t, nalus[2].Data, 3)
}

func TestParseAnnexBTrailingZeroAbsorbedByStartCode(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB, 0x00,
		0x00, 0x00, 0x01, 0x41, 0x9A,
	}

	nalus := ParseAnnexB(data)
	require.Len(t, nalus, 2)
	assert.Len(t, nalus[0].Data, 3)
	assert.Equal(t, byte(NALTypeSlice), nalus[1].Type)
	assert.False(t, IsKeyframe(nalus[1].Type))
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ParseAnnexB(nil))
	assert.Nil(t, ParseAnnexB([]byte{0x00, 0x01}))
}

func TestParseSPS720p(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(sps720p)
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.Equal(t, "avc1.64001F", info.CodecString())
}

func TestParseSPSCropped(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(sps256x192)
	require.NoError(t, err)
	assert.Equal(t, 256, info.Width)
	assert.Equal(t, 192, info.Height)
}

func TestParseSPSErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseSPS(nil)
	assert.Error(t, err)

	_, err = ParseSPS([]byte{0x67, 0x64, 0x00})
	assert.Error(t, err)

	_, err = ParseSPS([]byte{0x68, 0xCE, 0x38, 0x80, 0x00})
	assert.ErrorIs(t, err, errSPSBadHeader)
}

type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) bits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if (v>>i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.n % 8)
		}
		w.n++
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := bits.Len(v)
	w.bits(0, n-1)
	w.bits(v, n)
}

// baselineSPS builds a Baseline profile SPS NAL unit with the given
// macroblock dimensions and no cropping.
func baselineSPS(widthMbsMinus1, heightMapUnitsMinus1 uint) []byte {
	var w bitWriter
	w.bits(66, 8) // profile_idc
	w.bits(0, 8)  // constraint flags
	w.bits(31, 8) // level_idc
	w.ue(0)       // seq_parameter_set_id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(2)       // pic_order_cnt_type
	w.ue(1)       // max_num_ref_frames
	w.bits(0, 1)  // gaps_in_frame_num_value_allowed_flag
	w.ue(widthMbsMinus1)
	w.ue(heightMapUnitsMinus1)
	w.bits(1, 1) // frame_mbs_only_flag
	w.bits(1, 1) // direct_8x8_inference_flag
	w.bits(0, 1) // frame_cropping_flag
	w.bits(0, 1) // vui_parameters_present_flag
	w.bits(1, 1) // rbsp_stop_one_bit
	for w.n%8 != 0 {
		w.bits(0, 1)
	}

	out := []byte{0x67}
	zeros := 0
	for _, b := range w.buf {
		if zeros >= 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func TestParseSPSBaseline(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(baselineSPS(79, 44))
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
}

func TestParseSPSRejectsOversizedPicture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height uint
	}{
		{name: "huge both", width: 1 << 22, height: 1 << 22},
		{name: "width beyond limit", width: 512, height: 10},
		{name: "height beyond limit", width: 10, height: 512},
		{name: "area beyond level maximum", width: 511, height: 511},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSPS(baselineSPS(tc.width, tc.height))
			assert.ErrorIs(t, err, ErrPictureTooLarge)
		})
	}
}

func TestParseSPSLargestAllowed(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(baselineSPS(511, 271))
	require.NoError(t, err)
	assert.Equal(t, 8192, info.Width)
	assert.Equal(t, 4352, info.Height)
}

func TestIsAnnexB(t *testing.T) {
	t.Parallel()
	assert.True(t, IsAnnexB([]byte{0, 0, 0, 1, 0x65}))
	assert.True(t, IsAnnexB([]byte{0, 0, 1, 0x65}))
	assert.False(t, IsAnnexB([]byte{0, 0, 0, 5, 0x65}))
	assert.False(t, IsAnnexB(nil))
}

func TestAVCCToAnnexB(t *testing.T) {
	t.Parallel()
	avcc := []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84,
	}

	out, err := AVCCToAnnexB(avcc)
	require.NoError(t, err)

	nalus := ParseAnnexB(out)
	require.Len(t, nalus, 2)
	assert.Equal(t, []byte{0x67, 0x42}, nalus[0].Data)
	assert.Equal(t, []byte{0x65, 0x88, 0x84}, nalus[1].Data)
}

func TestAVCCToAnnexBMalformed(t *testing.T) {
	t.Parallel()

	_, err := AVCCToAnnexB([]byte{0x00, 0x00, 0x00, 0x09, 0x65})
	assert.ErrorIs(t, err, errBadAVCC)

	_, err = AVCCToAnnexB([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, errBadAVCC)
}

func TestNormalizePassesAnnexBThrough(t *testing.T) {
	t.Parallel()
	in := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}
	out, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
