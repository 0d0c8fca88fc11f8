// Package decodertest provides a pure Go decoder.Backend for tests of code
// that drives a decoder.Decoder.
package decodertest

import (
	"errors"
	"fmt"

	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/h264"
)

var (
	errNoNALUnits    = errors.New("access unit contains no NAL units")
	errBackendClosed = errors.New("backend closed")
)

// ProbeBackend follows SPS/PPS state and emits a flat I420 picture of the
// announced size for every coded picture. It does not reconstruct image
// content. Planes are reused between pictures.
type ProbeBackend struct {
	sps     *h264.SPSInfo
	havePPS bool
	pending bool
	closed  bool
	luma    byte
	pic     decoder.Picture
}

// NewBackend is a decoder.BackendFactory for ProbeBackend.
func NewBackend() (decoder.Backend, error) {
	return &ProbeBackend{luma: 16}, nil
}

// Send parses the access unit. Coded slices before the first SPS and PPS are
// accepted but produce no picture, like a real decoder waiting for a
// keyframe.
func (b *ProbeBackend) Send(au []byte) error {
	if b.closed {
		return errBackendClosed
	}
	nalus := h264.ParseAnnexB(au)
	if len(nalus) == 0 {
		return errNoNALUnits
	}
	for _, nalu := range nalus {
		switch {
		case h264.IsSPS(nalu.Type):
			info, err := h264.ParseSPS(nalu.Data)
			if err != nil {
				return fmt.Errorf("sps: %w", err)
			}
			b.sps = &info
		case h264.IsPPS(nalu.Type):
			b.havePPS = true
		case h264.IsVCL(nalu.Type):
			if b.sps != nil && b.havePPS {
				b.pending = true
			}
		}
	}
	return nil
}

// Receive returns the picture for the last coded slice, or ErrAgain.
func (b *ProbeBackend) Receive() (*decoder.Picture, error) {
	if b.closed {
		return nil, errBackendClosed
	}
	if !b.pending {
		return nil, decoder.ErrAgain
	}
	b.pending = false

	w, h := b.sps.Width, b.sps.Height
	cw, ch := (w+1)/2, (h+1)/2
	if b.pic.Width != w || b.pic.Height != h {
		b.pic = decoder.Picture{
			Format:  decoder.FormatI420,
			Width:   w,
			Height:  h,
			Planes:  [3][]byte{make([]byte, w*h), make([]byte, cw*ch), make([]byte, cw*ch)},
			Strides: [3]int{w, cw, cw},
		}
		fill(b.pic.Planes[1], 128)
		fill(b.pic.Planes[2], 128)
	}

	// Step luma so consecutive pictures differ.
	b.luma++
	if b.luma > 235 {
		b.luma = 16
	}
	fill(b.pic.Planes[0], b.luma)
	return &b.pic, nil
}

// Close marks the backend unusable.
func (b *ProbeBackend) Close() error {
	b.closed = true
	b.pic = decoder.Picture{}
	return nil
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
