//go:build !((linux && cgo) || windows || darwin)

package speaker

import (
	"context"
	"errors"

	"github.com/keshon/voicequeue/internal/music/player"
)

// Available indicates whether audio playback is supported in this build.
// Audio requires cgo for native sound libraries.
const Available = false

var ErrUnavailable = errors.New("speaker output needs a cgo build")

// Transport refuses to connect in builds without cgo.
type Transport struct{}

func NewTransport(ffmpegPath string) *Transport {
	return &Transport{}
}

func (t *Transport) Connect(ctx context.Context, dest player.Destination) (player.Voice, error) {
	return nil, ErrUnavailable
}
