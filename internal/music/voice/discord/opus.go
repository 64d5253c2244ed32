package discord

import (
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"

	"github.com/keshon/voicequeue/internal/music/stream"
)

// streamOpus encodes pcm to opus frames and sends them on out until the input
// ends (nil) or ctl is stopped (nil). Any other failure is returned.
func streamOpus(pcm io.Reader, ctl *stream.Control, out chan<- []byte) error {
	encoder, err := gopus.NewEncoder(stream.SampleRate, stream.Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, stream.FrameBytes)
	intBuf := make([]int16, stream.FrameSize*stream.Channels)

	for {
		if !ctl.Wait() {
			return nil
		}

		if err := stream.ReadFrame(pcm, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		stream.ToInt16(pcmBuf, intBuf)

		opus, err := encoder.Encode(intBuf, stream.FrameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		select {
		case out <- opus:
		case <-ctl.Done():
			return nil
		}
	}
}
