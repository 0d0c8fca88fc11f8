package decoder

import "fmt"

// ConvertToBGRA writes pic into dst as packed BGRA with the given row stride.
// The conversion preserves width and height; it is a format change, not a
// resize. YUV input is treated as BT.601 limited range.
func ConvertToBGRA(pic *Picture, dst []byte, dstStride int) error {
	w, h := pic.Width, pic.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid picture size %dx%d", w, h)
	}
	if dstStride < w*4 || len(dst) < dstStride*(h-1)+w*4 {
		return fmt.Errorf("destination too small for %dx%d", w, h)
	}

	switch pic.Format {
	case FormatI420:
		cw, ch := (w+1)/2, (h+1)/2
		if err := checkPlane(pic, 0, w, h); err != nil {
			return err
		}
		if err := checkPlane(pic, 1, cw, ch); err != nil {
			return err
		}
		if err := checkPlane(pic, 2, cw, ch); err != nil {
			return err
		}
		i420ToBGRA(pic, dst, dstStride)
	case FormatNV12:
		if err := checkPlane(pic, 0, w, h); err != nil {
			return err
		}
		if err := checkPlane(pic, 1, ((w+1)/2)*2, (h+1)/2); err != nil {
			return err
		}
		nv12ToBGRA(pic, dst, dstStride)
	case FormatBGRA:
		if err := checkPlane(pic, 0, w*4, h); err != nil {
			return err
		}
		for y := 0; y < h; y++ {
			copy(dst[y*dstStride:y*dstStride+w*4], pic.Planes[0][y*pic.Strides[0]:])
		}
	default:
		return fmt.Errorf("unsupported pixel format %v", pic.Format)
	}
	return nil
}

func checkPlane(pic *Picture, idx, rowBytes, rows int) error {
	stride := pic.Strides[idx]
	if stride < rowBytes || len(pic.Planes[idx]) < stride*(rows-1)+rowBytes {
		return fmt.Errorf("%v plane %d too small for %dx%d", pic.Format, idx, pic.Width, pic.Height)
	}
	return nil
}

func i420ToBGRA(pic *Picture, dst []byte, dstStride int) {
	yp, up, vp := pic.Planes[0], pic.Planes[1], pic.Planes[2]
	ys, us, vs := pic.Strides[0], pic.Strides[1], pic.Strides[2]
	for y := 0; y < pic.Height; y++ {
		row := dst[y*dstStride:]
		yRow := yp[y*ys:]
		uRow := up[(y/2)*us:]
		vRow := vp[(y/2)*vs:]
		for x := 0; x < pic.Width; x++ {
			putBGRA(row[x*4:], yRow[x], uRow[x/2], vRow[x/2])
		}
	}
}

func nv12ToBGRA(pic *Picture, dst []byte, dstStride int) {
	yp, uvp := pic.Planes[0], pic.Planes[1]
	ys, uvs := pic.Strides[0], pic.Strides[1]
	for y := 0; y < pic.Height; y++ {
		row := dst[y*dstStride:]
		yRow := yp[y*ys:]
		uvRow := uvp[(y/2)*uvs:]
		for x := 0; x < pic.Width; x++ {
			c := (x / 2) * 2
			putBGRA(row[x*4:], yRow[x], uvRow[c], uvRow[c+1])
		}
	}
}

func putBGRA(px []byte, y, u, v byte) {
	c := 298 * (int(y) - 16)
	d := int(u) - 128
	e := int(v) - 128
	px[0] = clamp8((c + 516*d + 128) >> 8)
	px[1] = clamp8((c - 100*d - 208*e + 128) >> 8)
	px[2] = clamp8((c + 409*e + 128) >> 8)
	px[3] = 0xFF
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
