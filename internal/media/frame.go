// Package media defines the fixed sample and pixel formats that flow through
// the receive pipeline, from the transport callbacks through decode, render
// and the audio mix.
package media

import "time"

// Audio format at the mix boundary: interleaved signed 16-bit little-endian
// stereo at one fixed sample rate.
const (
	SampleRate     = 44100
	Channels       = 2
	BytesPerSample = 2
	BytesPerFrame  = Channels * BytesPerSample
)

// BytesPerPixel is the size of one packed BGRA pixel at the render boundary.
const BytesPerPixel = 4

// Per-session queue sizes between the transport callbacks (producer) and the
// session tasks (consumer). Sized to absorb jitter without excessive memory:
// ~1 second of 60fps video, ~2.5s of audio at ~20ms chunks.
const (
	VideoQueueSize = 60
	AudioQueueSize = 128
)

// BytesForDuration returns the number of PCM bytes covering d at the given
// sample rate, rounded down to a whole stereo frame.
func BytesForDuration(sampleRate int, d time.Duration) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	frames := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return frames * BytesPerFrame
}

// DurationForBytes is the inverse of BytesForDuration.
func DurationForBytes(sampleRate, n int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	frames := n / BytesPerFrame
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}
