// Package h264 parses the parts of an H.264 elementary stream the receive
// pipeline needs before a picture is decoded: NAL unit framing (Annex B and
// length-prefixed AVCC) and the resolution announced by a Sequence Parameter
// Set.
package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// SPSInfo holds the parameters extracted from a Sequence Parameter Set that
// matter to the receiver: the cropped output resolution and the
// profile/level identifiers.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// Limits on the picture an SPS may announce. MaxFrameMbs is MaxFS for
// levels 6 to 6.2 (H.264 Table A-1), the largest any level allows.
const (
	MaxDimension = 8192
	MaxFrameMbs  = 139264
)

// ErrPictureTooLarge is returned by ParseSPS for an SPS announcing a picture
// beyond MaxDimension or MaxFrameMbs.
var ErrPictureTooLarge = errors.New("h264: SPS picture size out of range")

var (
	errSPSTooShort  = errors.New("SPS data too short")
	errBadAVCC      = errors.New("malformed length-prefixed NAL unit")
	errSPSBadHeader = errors.New("not an SPS NAL unit")
)

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

// skipUE discards n consecutive Exp-Golomb values.
func (br *bitReader) skipUE(n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.readUE(); err != nil {
			return err
		}
	}
	return nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func hasChromaInfo(profileIdc uint) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit and returns its cropped resolution
// and profile/level. The input is the raw NAL data including the NAL header
// byte but without the start code or length prefix. VUI parameters are not
// read.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	if nalu[0]&0x1F != NALTypeSPS {
		return SPSInfo{}, errSPSBadHeader
	}

	br := newBitReader(removeEmulationPrevention(nalu[1:]))

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if err := br.skipUE(1); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	if hasChromaInfo(profileIdc) {
		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIdc == 3 {
			val, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = val == 1
		}
		if err := br.skipUE(2); err != nil { // bit_depth_luma/chroma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPSInfo{}, err
		}

		seqScalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if seqScalingMatrixPresent == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if err := br.skipUE(1); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}

	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	switch picOrderCntType {
	case 0:
		if err := br.skipUE(1); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if err := br.skipUE(1); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPSInfo{}, err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
	}

	widthMbs := picWidthMbs + 1
	heightMbs := (picHeightMapUnits + 1) * (2 - frameMbsOnly)
	if widthMbs > MaxDimension/16 || heightMbs > MaxDimension/16 || widthMbs*heightMbs > MaxFrameMbs {
		return SPSInfo{}, fmt.Errorf("%w: %dx%d macroblocks", ErrPictureTooLarge, widthMbs, heightMbs)
	}

	if _, err := br.readBits(1); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	var crop [4]uint // left, right, top, bottom
	frameCroppingFlag, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameCroppingFlag == 1 {
		for i := range crop {
			if crop[i], err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	width := int(widthMbs*16) - int(cropUnitX*(crop[0]+crop[1]))
	height := int(heightMbs*16) - int(cropUnitY*(crop[2]+crop[3]))
	if width <= 0 || height <= 0 {
		return SPSInfo{}, fmt.Errorf("SPS crop exceeds picture: %dx%d", width, height)
	}

	return SPSInfo{
		Width:           width,
		Height:          height,
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}, nil
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// NALUnit represents a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit nal_unit_type
	Data []byte // raw NAL data including the header byte, without start code
}

// ParseAnnexB scans an Annex B byte stream for start codes and extracts NAL
// units. Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are
// recognized. The returned Data slices alias the input.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}

	return units
}

// IsAnnexB reports whether data begins with an Annex B start code.
func IsAnnexB(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AVCCToAnnexB rewrites a buffer of 4-byte big-endian length-prefixed NAL
// units into an Annex B byte stream. Mirroring senders deliver access units
// in this form.
func AVCCToAnnexB(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)+8)
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errBadAVCC
		}
		size := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if size == 0 || size > len(data) {
			return nil, fmt.Errorf("%w: length %d with %d bytes left", errBadAVCC, size, len(data))
		}
		out = append(out, startCode...)
		out = append(out, data[:size]...)
		data = data[size:]
	}
	return out, nil
}

// Normalize returns data in Annex B form, converting from AVCC when needed.
func Normalize(data []byte) ([]byte, error) {
	if IsAnnexB(data) {
		return data, nil
	}
	return AVCCToAnnexB(data)
}

// IsVCL returns true for NAL types that carry coded slice data.
func IsVCL(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// IsKeyframe returns true if the NAL type is an IDR slice (type 5).
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}
