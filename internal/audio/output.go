package audio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/airsink/internal/media"
)

// Puller produces output blocks on demand.
type Puller interface {
	Pull(out []byte)
}

// RunOutput drives src at a fixed block rate and writes each block to w,
// standing in for an audio device callback. It returns when ctx is cancelled
// or a write fails.
func RunOutput(ctx context.Context, src Puller, w io.Writer, sampleRate int, block time.Duration) error {
	size := media.BytesForDuration(sampleRate, block)
	if size <= 0 {
		return fmt.Errorf("audio block %v too small at %d Hz", block, sampleRate)
	}
	buf := make([]byte, size)

	ticker := time.NewTicker(block)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			src.Pull(buf)
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("audio output: %w", err)
			}
		}
	}
}
