package decoder

import "errors"

// ErrAgain is returned by Backend.Receive when the codec needs more input
// before it can output a picture.
var ErrAgain = errors.New("decoder: more input needed")

// PixelFormat identifies the memory layout of a decoded Picture.
type PixelFormat int

// Picture layouts a Backend may output.
const (
	FormatI420 PixelFormat = iota // planar Y, U, V with 2x2 chroma subsampling
	FormatNV12                    // planar Y, interleaved UV with 2x2 chroma subsampling
	FormatBGRA                    // packed B, G, R, A
)

func (f PixelFormat) String() string {
	switch f {
	case FormatI420:
		return "i420"
	case FormatNV12:
		return "nv12"
	case FormatBGRA:
		return "bgra"
	default:
		return "unknown"
	}
}

// Picture is a decoded picture in the codec's native layout. Planes that the
// format does not use are nil. The picture is only valid until the next call
// into the Backend that produced it.
type Picture struct {
	Format  PixelFormat
	Width   int
	Height  int
	Planes  [3][]byte
	Strides [3]int
}

// Backend is one stateful decode context. Implementations follow the
// send/receive model of libavcodec: Send submits one Annex B access unit and
// Receive returns the next available picture or ErrAgain. A Backend is never
// used from more than one goroutine at a time and is never shared between
// sessions.
type Backend interface {
	Send(au []byte) error
	Receive() (*Picture, error)
	Close() error
}

// BackendFactory opens a new decode context.
type BackendFactory func() (Backend, error)
