//go:build !portaudio

package capture

import (
	"context"
	"fmt"
)

// PortAudioDevice needs the portaudio build tag; without it Open always
// fails with ErrDeviceUnavailable.
type PortAudioDevice struct {
	Rate      int
	BlockSize int
}

func (d PortAudioDevice) Open(context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: built without -tags portaudio", ErrDeviceUnavailable)
}
