//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the default system input.
type PortAudioDevice struct {
	Rate      int
	BlockSize int
}

func (d PortAudioDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrDeviceUnavailable, err)
	}
	buf := make([]float32, d.BlockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.Rate), d.BlockSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	return &portAudioStream{rate: d.Rate, stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	rate   int
	stream *portaudio.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

func (s *portAudioStream) SampleRate() int { return s.rate }

func (s *portAudioStream) Read() ([]float32, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStreamClosed
	}
	if err := s.stream.Read(); err != nil {
		// Input overflow only means we were late; the block is still valid.
		if err != portaudio.InputOverflowed {
			return nil, err
		}
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	err := s.stream.Close()
	_ = portaudio.Terminate()
	return err
}
