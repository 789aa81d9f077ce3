package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/antoniostano/voxline/internal/audio"
	"github.com/antoniostano/voxline/internal/observability"
)

// Frame is one encoded capture block, ready for the duplex channel.
type Frame struct {
	Seq        int64
	SampleRate int
	// Data is base64 of 16-bit little-endian mono PCM.
	Data    string
	Samples int
}

// Sink receives frames. Forward must not block for long; the capture loop
// calls it inline.
type Sink interface {
	Ready() bool
	Forward(Frame)
}

// Encoder reads a Device, converts blocks to PCM16 at the target rate and
// hands them to a Sink while unpaused and while the sink is ready.
type Encoder struct {
	device     Device
	targetRate int
	metrics    *observability.Metrics
	log        *slog.Logger

	mu      sync.Mutex
	running bool
	stream  Stream
	sink    Sink
	stopCh  chan struct{}
	doneCh  chan struct{}
	paused  atomic.Bool
	seq     atomic.Int64
}

func NewEncoder(device Device, targetRate int, metrics *observability.Metrics, log *slog.Logger) *Encoder {
	if targetRate <= 0 {
		targetRate = audio.SampleRate
	}
	if metrics == nil {
		metrics = observability.NewMetrics("voxline")
	}
	if log == nil {
		log = observability.Logger()
	}
	return &Encoder{
		device:     device,
		targetRate: targetRate,
		metrics:    metrics,
		log:        log.With("component", "capture"),
	}
}

// Start opens the device and begins forwarding frames to sink. Starting an
// already running encoder is a no-op.
func (e *Encoder) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return errors.New("capture sink is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.device == nil {
		return ErrDeviceUnavailable
	}
	stream, err := e.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	e.stream = stream
	e.sink = sink
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true
	e.paused.Store(false)
	e.seq.Store(0)
	go e.loop(stream, sink, e.stopCh, e.doneCh)
	e.log.Info("capture started", "device_rate", stream.SampleRate(), "target_rate", e.targetRate)
	return nil
}

// Stop closes the stream and waits for the capture loop to exit. No frame
// is forwarded after Stop returns.
func (e *Encoder) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh, stream := e.stopCh, e.doneCh, e.stream
	e.running = false
	e.stream = nil
	close(stopCh)
	e.mu.Unlock()

	if err := stream.Close(); err != nil {
		e.log.Warn("capture stream close failed", "error", err)
	}
	<-doneCh
	e.log.Info("capture stopped")
}

// Pause drops frames without stopping the device.
func (e *Encoder) Pause() {
	e.paused.Store(true)
}

// Resume re-enables forwarding. It fails with ErrInvalidState when the
// capture loop has stopped, for example after a device read error.
func (e *Encoder) Resume() error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrInvalidState
	}
	e.paused.Store(false)
	return nil
}

// Reset tears the pipeline down and starts it again with the last sink.
func (e *Encoder) Reset(ctx context.Context) error {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return ErrInvalidState
	}
	e.Stop()
	return e.Start(ctx, sink)
}

func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Encoder) Paused() bool {
	return e.paused.Load()
}

func (e *Encoder) loop(stream Stream, sink Sink, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	rate := stream.SampleRate()
	for {
		block, err := stream.Read()
		select {
		case <-stopCh:
			return
		default:
		}
		if err != nil {
			e.metrics.CaptureFrames.WithLabelValues("error").Inc()
			e.log.Error("capture read failed", "error", err)
			e.markStopped(stopCh, stream)
			return
		}
		if e.paused.Load() {
			e.metrics.CaptureFrames.WithLabelValues("paused").Inc()
			continue
		}
		if !sink.Ready() {
			e.metrics.CaptureFrames.WithLabelValues("not_ready").Inc()
			continue
		}

		samples := audio.Resample(block, rate, e.targetRate)
		sink.Forward(Frame{
			Seq:        e.seq.Add(1),
			SampleRate: e.targetRate,
			Data:       base64.StdEncoding.EncodeToString(audio.FloatToPCM16(samples)),
			Samples:    len(samples),
		})
		e.metrics.CaptureFrames.WithLabelValues("sent").Inc()
	}
}

// markStopped flips running off when the loop dies on its own, unless a
// Stop/Start cycle already replaced this loop.
func (e *Encoder) markStopped(stopCh <-chan struct{}, stream Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != stopCh || !e.running {
		return
	}
	e.running = false
	e.stream = nil
	_ = stream.Close()
}
