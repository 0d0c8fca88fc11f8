package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatI420(w, h int, y, u, v byte) *Picture {
	cw, ch := (w+1)/2, (h+1)/2
	pic := &Picture{
		Format:  FormatI420,
		Width:   w,
		Height:  h,
		Planes:  [3][]byte{make([]byte, w*h), make([]byte, cw*ch), make([]byte, cw*ch)},
		Strides: [3]int{w, cw, cw},
	}
	fill(pic.Planes[0], y)
	fill(pic.Planes[1], u)
	fill(pic.Planes[2], v)
	return pic
}

func TestConvertI420Levels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		y, u, v byte
		bgra    [4]byte
	}{
		{"black", 16, 128, 128, [4]byte{0, 0, 0, 255}},
		{"white", 235, 128, 128, [4]byte{255, 255, 255, 255}},
		{"red", 81, 90, 240, [4]byte{0, 0, 255, 255}},
		{"below black clamps", 0, 128, 128, [4]byte{0, 0, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dst := make([]byte, 4*4*4)
			require.NoError(t, ConvertToBGRA(flatI420(4, 4, tt.y, tt.u, tt.v), dst, 16))
			for i := 0; i < len(dst); i += 4 {
				got := [4]byte(dst[i : i+4])
				assert.InDelta(t, tt.bgra[0], got[0], 2)
				assert.InDelta(t, tt.bgra[1], got[1], 2)
				assert.InDelta(t, tt.bgra[2], got[2], 2)
				assert.Equal(t, tt.bgra[3], got[3])
			}
		})
	}
}

func TestConvertNV12MatchesI420(t *testing.T) {
	t.Parallel()
	i420 := flatI420(6, 4, 120, 60, 200)
	nv12 := &Picture{
		Format:  FormatNV12,
		Width:   6,
		Height:  4,
		Planes:  [3][]byte{i420.Planes[0], make([]byte, 6*2)},
		Strides: [3]int{6, 6},
	}
	for i := 0; i < len(nv12.Planes[1]); i += 2 {
		nv12.Planes[1][i] = 60
		nv12.Planes[1][i+1] = 200
	}

	a := make([]byte, 6*4*4)
	b := make([]byte, 6*4*4)
	require.NoError(t, ConvertToBGRA(i420, a, 24))
	require.NoError(t, ConvertToBGRA(nv12, b, 24))
	assert.Equal(t, a, b)
}

func TestConvertOddDimensions(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 5*3*4)
	require.NoError(t, ConvertToBGRA(flatI420(5, 3, 16, 128, 128), dst, 20))
}

func TestConvertBGRAHonorsStride(t *testing.T) {
	t.Parallel()
	src := &Picture{
		Format:  FormatBGRA,
		Width:   2,
		Height:  2,
		Planes:  [3][]byte{{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 9, 10, 11, 12, 13, 14, 15, 16}},
		Strides: [3]int{10},
	}
	dst := make([]byte, 16)
	require.NoError(t, ConvertToBGRA(src, dst, 8))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, dst)
}

func TestConvertRejectsShortBuffers(t *testing.T) {
	t.Parallel()
	pic := flatI420(8, 8, 16, 128, 128)

	err := ConvertToBGRA(pic, make([]byte, 8*8*4-1), 32)
	assert.Error(t, err)

	pic.Planes[2] = pic.Planes[2][:3]
	err = ConvertToBGRA(pic, make([]byte, 8*8*4), 32)
	assert.Error(t, err)

	assert.Error(t, ConvertToBGRA(&Picture{Format: FormatI420}, nil, 0))
	assert.Error(t, ConvertToBGRA(&Picture{Format: PixelFormat(9), Width: 1, Height: 1}, make([]byte, 4), 4))
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
