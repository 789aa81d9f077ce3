package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/antoniostano/voxline/internal/observability"
)

type scriptedStream struct {
	rate   int
	blocks chan []float32
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newScriptedStream(rate int) *scriptedStream {
	return &scriptedStream{
		rate:   rate,
		blocks: make(chan []float32, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *scriptedStream) SampleRate() int { return s.rate }

func (s *scriptedStream) Read() ([]float32, error) {
	select {
	case <-s.done:
		return nil, ErrStreamClosed
	case err := <-s.errs:
		return nil, err
	case b := <-s.blocks:
		return b, nil
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type scriptedDevice struct {
	mu      sync.Mutex
	streams []*scriptedStream
	rate    int
	fail    error
}

func (d *scriptedDevice) Open(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	s := newScriptedStream(d.rate)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *scriptedDevice) last() *scriptedStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	ready  bool
	frames []Frame
	got    chan Frame
}

func newRecordingSink(ready bool) *recordingSink {
	return &recordingSink{ready: ready, got: make(chan Frame, 16)}
}

func (s *recordingSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *recordingSink) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *recordingSink) Forward(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.got <- f
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func waitFrame(t *testing.T, sink *recordingSink) Frame {
	t.Helper()
	select {
	case f := <-sink.got:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return Frame{}
	}
}

func waitCounter(t *testing.T, m *observability.Metrics, result string, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(m.CaptureFrames.WithLabelValues(result)) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("capture_frames_total{result=%q} < %v", result, want)
}

func TestEncoderResamplesAndEncodesFrames(t *testing.T) {
	device := &scriptedDevice{rate: 48000}
	sink := newRecordingSink(true)
	enc := NewEncoder(device, 16000, observability.NewMetrics("test"), observability.Discard())
	if err := enc.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer enc.Stop()

	device.last().blocks <- make([]float32, 4096)
	f := waitFrame(t, sink)
	if f.Samples != 1365 {
		t.Fatalf("Samples = %d, want 1365", f.Samples)
	}
	if f.SampleRate != 16000 || f.Seq != 1 {
		t.Fatalf("frame = %+v", f)
	}
	pcm, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		t.Fatalf("frame data is not base64: %v", err)
	}
	if len(pcm) != 1365*2 {
		t.Fatalf("pcm bytes = %d, want %d", len(pcm), 1365*2)
	}
}

func TestEncoderDropsFramesWhilePausedOrSinkNotReady(t *testing.T) {
	device := &scriptedDevice{rate: 16000}
	sink := newRecordingSink(false)
	metrics := observability.NewMetrics("test")
	enc := NewEncoder(device, 16000, metrics, observability.Discard())
	if err := enc.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer enc.Stop()
	stream := device.last()

	stream.blocks <- make([]float32, 160)
	waitCounter(t, metrics, "not_ready", 1)

	sink.setReady(true)
	enc.Pause()
	stream.blocks <- make([]float32, 160)
	waitCounter(t, metrics, "paused", 1)
	if sink.count() != 0 {
		t.Fatalf("frames forwarded = %d, want 0", sink.count())
	}

	if err := enc.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	stream.blocks <- make([]float32, 160)
	waitFrame(t, sink)
}

func TestEncoderResumeAfterReadErrorIsInvalidState(t *testing.T) {
	device := &scriptedDevice{rate: 16000}
	sink := newRecordingSink(true)
	metrics := observability.NewMetrics("test")
	enc := NewEncoder(device, 16000, metrics, observability.Discard())
	if err := enc.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	device.last().errs <- errors.New("device unplugged")
	waitCounter(t, metrics, "error", 1)

	deadline := time.Now().Add(2 * time.Second)
	for enc.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := enc.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Resume() error = %v, want ErrInvalidState", err)
	}

	if err := enc.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	defer enc.Stop()
	if !enc.Running() {
		t.Fatalf("encoder not running after Reset")
	}
	device.last().blocks <- make([]float32, 160)
	waitFrame(t, sink)
}

func TestEncoderStartWrapsDeviceFailure(t *testing.T) {
	device := &scriptedDevice{rate: 16000, fail: errors.New("no such device")}
	enc := NewEncoder(device, 16000, nil, observability.Discard())
	err := enc.Start(context.Background(), newRecordingSink(true))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}
	if enc.Running() {
		t.Fatalf("encoder running after failed start")
	}
}

func TestEncoderStopIsIdempotentAndForwardsNothingAfter(t *testing.T) {
	device := &scriptedDevice{rate: 16000}
	sink := newRecordingSink(true)
	enc := NewEncoder(device, 16000, nil, observability.Discard())
	if err := enc.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stream := device.last()
	enc.Stop()
	enc.Stop()

	stream.blocks <- make([]float32, 160)
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("frames after stop = %d, want 0", sink.count())
	}
}

func TestSilenceDeviceProducesZeroBlocks(t *testing.T) {
	stream, err := SilenceDevice{Rate: 16000, BlockSize: 160}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	block, err := stream.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(block) != 160 {
		t.Fatalf("block len = %d, want 160", len(block))
	}
	_ = stream.Close()
	if _, err := stream.Read(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Read() after close error = %v, want ErrStreamClosed", err)
	}
}
