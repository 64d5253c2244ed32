//go:build (linux && cgo) || windows || darwin

package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/internal/music/stream"
)

// Available indicates whether audio playback is supported in this build.
const Available = true

var errNothingPlaying = errors.New("nothing is playing")

// Transport implements player.Transport on the default audio device.
// Destinations are only labels; every "channel" is the same speaker.
type Transport struct {
	ffmpegPath string
	once       sync.Once
	initErr    error
}

func NewTransport(ffmpegPath string) *Transport {
	return &Transport{ffmpegPath: ffmpegPath}
}

func (t *Transport) Connect(ctx context.Context, dest player.Destination) (player.Voice, error) {
	t.once.Do(func() {
		rate := beep.SampleRate(stream.SampleRate)
		t.initErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	if t.initErr != nil {
		return nil, fmt.Errorf("speaker init: %w", t.initErr)
	}
	return &Voice{ffmpegPath: t.ffmpegPath, channel: dest.ChannelID, connected: true}, nil
}

type Voice struct {
	ffmpegPath string

	mu        sync.Mutex
	channel   string
	connected bool
	ctrl      *beep.Ctrl
	finish    func(error)
}

func (v *Voice) Move(ctx context.Context, dest player.Destination) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = dest.ChannelID
	return nil
}

func (v *Voice) Disconnect() error {
	v.Stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

func (v *Voice) Play(path string, onFinished func(error)) error {
	pcm, err := stream.Open(context.Background(), v.ffmpegPath, path)
	if err != nil {
		return err
	}

	src := newPCMStreamer(pcm)
	ctrl := &beep.Ctrl{Streamer: src}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			_ = pcm.Close()
			v.mu.Lock()
			if v.ctrl == ctrl {
				v.ctrl = nil
				v.finish = nil
			}
			v.mu.Unlock()
			onFinished(err)
		})
	}

	v.Stop()
	v.mu.Lock()
	v.ctrl = ctrl
	v.finish = finish
	v.mu.Unlock()

	// the callback runs with the speaker locked
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		go finish(src.Err())
	})))
	return nil
}

func (v *Voice) Stop() {
	v.mu.Lock()
	ctrl, finish := v.ctrl, v.finish
	v.mu.Unlock()
	if ctrl == nil {
		return
	}

	speaker.Lock()
	ctrl.Streamer = nil
	speaker.Unlock()
	finish(nil)
}

func (v *Voice) Pause() error {
	return v.setPaused(true)
}

func (v *Voice) Resume() error {
	return v.setPaused(false)
}

func (v *Voice) setPaused(paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctrl == nil {
		return errNothingPlaying
	}
	speaker.Lock()
	v.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

func (v *Voice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctrl == nil {
		return false
	}
	speaker.Lock()
	defer speaker.Unlock()
	return !v.ctrl.Paused
}

func (v *Voice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctrl == nil {
		return false
	}
	speaker.Lock()
	defer speaker.Unlock()
	return v.ctrl.Paused
}

func (v *Voice) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *Voice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}
