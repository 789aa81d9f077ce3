package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrInvalidState is returned by Resume when the capture pipeline is not running.
	ErrInvalidState = errors.New("capture not running")
	// ErrStreamClosed is returned by Read after Close.
	ErrStreamClosed = errors.New("capture stream closed")
)

// Device opens mono float32 input streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers blocks of mono samples in [-1, 1].
type Stream interface {
	SampleRate() int
	// Read blocks until the next block is available.
	Read() ([]float32, error)
	Close() error
}

// SilenceDevice produces blocks of zeros at the real-time pace of the
// configured rate. It stands in for a microphone on headless hosts.
type SilenceDevice struct {
	Rate      int
	BlockSize int
}

func (d SilenceDevice) Open(ctx context.Context) (Stream, error) {
	if d.Rate <= 0 || d.BlockSize <= 0 {
		return nil, ErrDeviceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interval := time.Duration(d.BlockSize) * time.Second / time.Duration(d.Rate)
	return &silenceStream{
		rate:   d.Rate,
		block:  d.BlockSize,
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}, nil
}

type silenceStream struct {
	rate   int
	block  int
	ticker *time.Ticker

	closeOnce sync.Once
	done      chan struct{}
}

func (s *silenceStream) SampleRate() int { return s.rate }

func (s *silenceStream) Read() ([]float32, error) {
	select {
	case <-s.done:
		return nil, ErrStreamClosed
	case <-s.ticker.C:
		return make([]float32, s.block), nil
	}
}

func (s *silenceStream) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
