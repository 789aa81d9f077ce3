//go:build portaudio

package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const portAudioFramesPerBuffer = 1024

// PortAudioOutput plays PCM16 clips on the default system output.
type PortAudioOutput struct {
	mu sync.Mutex
}

func NewPortAudioOutput() (Output, error) {
	return &PortAudioOutput{}, nil
}

func (o *PortAudioOutput) Play(ctx context.Context, clip Audio) error {
	if clip.Format != FormatPCM16 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, clip.Format)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, portAudioFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(clip.SampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	data := clip.Data
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range out {
			out[i] = 0
			if i*2+1 < len(data) {
				out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
			}
		}
		if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("write output stream: %w", err)
		}
		if len(data) <= len(out)*2 {
			break
		}
		data = data[len(out)*2:]
	}
	return nil
}
