// Package speaker plays local media files on the machine's audio output.
package speaker

import (
	"bufio"
	"errors"
	"io"

	"github.com/gopxl/beep/v2"

	"github.com/keshon/voicequeue/internal/music/stream"
)

var _ beep.Streamer = (*pcmStreamer)(nil)

// pcmStreamer adapts s16le stereo PCM at stream.SampleRate to beep.
type pcmStreamer struct {
	r   *bufio.Reader
	buf []byte
	err error
}

func newPCMStreamer(r io.Reader) *pcmStreamer {
	return &pcmStreamer{r: bufio.NewReaderSize(r, 64*1024)}
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.err != nil {
		return 0, false
	}
	need := len(samples) * 4
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}

	n, err := io.ReadFull(p.r, p.buf[:need])
	got := stream.ToFloatStereo(p.buf[:n], samples)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			p.err = err
		}
		return got, got > 0
	}
	return got, true
}

func (p *pcmStreamer) Err() error { return p.err }
