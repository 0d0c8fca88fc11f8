// Package avcodec is the libavcodec H.264 decode backend. Decoded pictures
// are converted to BGRA with libswscale. It needs cgo and the FFmpeg
// libraries at build time.
package avcodec

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/media"
)

var errClosed = errors.New("avcodec: backend closed")

// Backend owns one libavcodec H.264 context and its scaler.
type Backend struct {
	codecCtx *astiav.CodecContext
	pkt      *astiav.Packet
	frame    *astiav.Frame
	bgra     *astiav.Frame

	sws    *astiav.SoftwareScaleContext
	swsW   int
	swsH   int
	swsFmt astiav.PixelFormat

	pic    decoder.Picture
	closed bool
}

// NewBackend opens an H.264 decode context. It is a decoder.BackendFactory.
func NewBackend() (decoder.Backend, error) {
	codec := astiav.FindDecoder(astiav.CodecIDH264)
	if codec == nil {
		return nil, errors.New("avcodec: H.264 decoder not available")
	}
	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, errors.New("avcodec: allocating codec context failed")
	}
	if err := codecCtx.Open(codec, nil); err != nil {
		codecCtx.Free()
		return nil, fmt.Errorf("avcodec: opening H.264 decoder: %w", err)
	}
	return &Backend{
		codecCtx: codecCtx,
		pkt:      astiav.AllocPacket(),
		frame:    astiav.AllocFrame(),
		bgra:     astiav.AllocFrame(),
	}, nil
}

// Send submits one Annex B access unit. If the codec's output is full the
// oldest pending picture is dropped so the newest unit is accepted.
func (b *Backend) Send(au []byte) error {
	if b.closed {
		return errClosed
	}
	if err := b.pkt.FromData(au); err != nil {
		return fmt.Errorf("avcodec: packet: %w", err)
	}
	defer b.pkt.Unref()

	err := b.codecCtx.SendPacket(b.pkt)
	if errors.Is(err, astiav.ErrEagain) {
		b.frame.Unref()
		if rerr := b.codecCtx.ReceiveFrame(b.frame); rerr == nil {
			b.frame.Unref()
		}
		err = b.codecCtx.SendPacket(b.pkt)
	}
	if err != nil {
		return fmt.Errorf("avcodec: send packet: %w", err)
	}
	return nil
}

// Receive returns the next decoded picture as BGRA, or decoder.ErrAgain.
// The picture is valid until the next call.
func (b *Backend) Receive() (*decoder.Picture, error) {
	if b.closed {
		return nil, errClosed
	}
	b.frame.Unref()
	if err := b.codecCtx.ReceiveFrame(b.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, decoder.ErrAgain
		}
		return nil, fmt.Errorf("avcodec: receive frame: %w", err)
	}

	w, h := b.frame.Width(), b.frame.Height()
	if err := b.ensureScaler(w, h, b.frame.PixelFormat()); err != nil {
		return nil, err
	}
	if err := b.sws.ScaleFrame(b.frame, b.bgra); err != nil {
		return nil, fmt.Errorf("avcodec: scale: %w", err)
	}
	pix, err := b.bgra.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("avcodec: frame data: %w", err)
	}

	b.pic = decoder.Picture{
		Format:  decoder.FormatBGRA,
		Width:   w,
		Height:  h,
		Planes:  [3][]byte{pix},
		Strides: [3]int{w * media.BytesPerPixel},
	}
	return &b.pic, nil
}

// ensureScaler (re)creates the scaler and BGRA frame when the decoded size or
// format changes.
func (b *Backend) ensureScaler(w, h int, pf astiav.PixelFormat) error {
	if b.sws != nil && w == b.swsW && h == b.swsH && pf == b.swsFmt {
		return nil
	}
	if b.sws != nil {
		b.sws.Free()
		b.sws = nil
	}

	b.bgra.Unref()
	b.bgra.SetWidth(w)
	b.bgra.SetHeight(h)
	b.bgra.SetPixelFormat(astiav.PixelFormatBgra)
	if err := b.bgra.AllocBuffer(1); err != nil {
		return fmt.Errorf("avcodec: allocating BGRA frame: %w", err)
	}

	sws, err := astiav.CreateSoftwareScaleContext(w, h, pf, w, h, astiav.PixelFormatBgra,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return fmt.Errorf("avcodec: creating scaler for %dx%d %v: %w", w, h, pf, err)
	}
	b.sws, b.swsW, b.swsH, b.swsFmt = sws, w, h, pf
	return nil
}

// Close frees the codec context, scaler and frames. It is idempotent.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.sws != nil {
		b.sws.Free()
		b.sws = nil
	}
	b.bgra.Free()
	b.frame.Free()
	b.pkt.Free()
	b.codecCtx.Free()
	b.pic = decoder.Picture{}
	return nil
}
