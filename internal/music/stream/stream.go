// Package stream decodes local media files to raw PCM with ffmpeg and frames
// that PCM for voice outputs.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz

	// FrameBytes is one FrameSize frame of s16le stereo PCM.
	FrameBytes = FrameSize * Channels * 2
)

// PCM is a running ffmpeg process producing s16le stereo PCM at SampleRate.
type PCM struct {
	io.Reader
	cmd       *exec.Cmd
	closeOnce sync.Once
}

// Open starts ffmpeg on path. The process is killed when ctx ends or Close is called.
func Open(ctx context.Context, ffmpegPath, path string) (*PCM, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", path,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	return &PCM{Reader: reader, cmd: cmd}, nil
}

// Close kills ffmpeg if it is still running and reaps it.
func (p *PCM) Close() error {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}

// ReadFrame fills buf with the next full frame. It returns io.EOF once the
// input is exhausted; a trailing partial frame is dropped.
func ReadFrame(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// ToInt16 converts little-endian s16 PCM into samples. len(out) must be len(pcm)/2.
func ToInt16(pcm []byte, out []int16) {
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
}

// ToFloatStereo converts interleaved s16le stereo PCM into [-1, 1] sample
// pairs and returns how many pairs were written.
func ToFloatStereo(pcm []byte, out [][2]float64) int {
	n := min(len(pcm)/4, len(out))
	for i := 0; i < n; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		out[i][0] = float64(l) / 32768
		out[i][1] = float64(r) / 32768
	}
	return n
}
