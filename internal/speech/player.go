package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/voxline/internal/audio"
	"github.com/antoniostano/voxline/internal/capture"
	"github.com/antoniostano/voxline/internal/observability"
)

const DefaultResumeDelay = 150 * time.Millisecond

// Handle is one in-flight playback.
type Handle struct {
	text   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *Handle) Text() string { return h.text }

// Done is closed once playback finished or was stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop interrupts playback. Safe to call more than once.
func (h *Handle) Stop() { h.cancel() }

// Err is valid after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

func finishedHandle(text string, err error) *Handle {
	h := &Handle{text: text, cancel: func() {}, done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

type PlayerOption func(*Player)

func WithResumeDelay(d time.Duration) PlayerOption {
	return func(p *Player) {
		if d >= 0 {
			p.resumeDelay = d
		}
	}
}

func WithVoice(voiceID string) PlayerOption {
	return func(p *Player) {
		p.voiceID = voiceID
		p.defaultVoice = voiceID
	}
}

func WithMetrics(m *observability.Metrics) PlayerOption {
	return func(p *Player) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) {
		if l != nil {
			p.log = l
		}
	}
}

// Player keeps at most one playback active. Starting a new one stops the
// previous one. Recognition is paused for the duration of a playback and
// resumed ResumeDelay after the last one completes.
type Player struct {
	synth       Synthesizer
	out         Output
	rec         Recognizer
	resumeDelay time.Duration
	metrics     *observability.Metrics
	log         *slog.Logger

	// outMu serializes Output.Play so a stopped clip has released the
	// device before the next one starts.
	outMu sync.Mutex

	defaultVoice string

	mu      sync.Mutex
	voiceID string
	current *Handle
	epoch   uint64
}

func NewPlayer(synth Synthesizer, out Output, rec Recognizer, opts ...PlayerOption) *Player {
	p := &Player{
		synth:       synth,
		out:         out,
		rec:         rec,
		resumeDelay: DefaultResumeDelay,
		metrics:     observability.NewMetrics("voxline"),
		log:         observability.Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.synth == nil {
		p.synth = NewMockSynthesizer()
	}
	if p.out == nil {
		p.out = DiscardOutput{}
	}
	p.log = p.log.With("component", "speech")
	return p
}

// SetVoice changes the voice used by later Speak calls. An empty id
// restores the voice given to WithVoice.
func (p *Player) SetVoice(voiceID string) {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = p.defaultVoice
	}
	p.mu.Lock()
	p.voiceID = voiceID
	p.mu.Unlock()
}

// Speak synthesizes text and plays it. Text that is empty after sanitizing
// returns an already finished handle and leaves the current playback alone.
func (p *Player) Speak(ctx context.Context, text string) *Handle {
	clean := SanitizeText(text)
	if clean == "" {
		return finishedHandle(text, ErrEmptyText)
	}
	h, pctx, voiceID, epoch := p.begin(ctx, text)
	go p.run(h, epoch, func() error {
		started := time.Now()
		clip, err := p.synth.Synthesize(pctx, voiceID, clean)
		p.metrics.ObserveStage(observability.StageSynthesis, time.Since(started))
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) {
				p.metrics.ProviderErrors.WithLabelValues(pe.Provider, pe.Code).Inc()
			}
			return fmt.Errorf("synthesize: %w", err)
		}
		return p.play(pctx, clip)
	})
	return h
}

// PlayAudio plays a base64 clip received from the backend: WAV, or raw
// PCM16 at 16 kHz.
func (p *Player) PlayAudio(ctx context.Context, encoded string) *Handle {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		p.log.Warn("inbound audio is not base64", "error", err)
		return finishedHandle("", fmt.Errorf("decode audio: %w", err))
	}
	if len(blob) == 0 {
		return finishedHandle("", ErrEmptyText)
	}
	clip := Audio{Data: blob, Format: FormatPCM16, SampleRate: audio.SampleRate}
	if audio.IsWAV(blob) {
		pcm, rate, err := audio.DecodeWAV(blob)
		if err != nil {
			p.log.Warn("inbound wav rejected", "error", err)
			return finishedHandle("", err)
		}
		clip.Data, clip.SampleRate = pcm, rate
	}
	h, pctx, _, epoch := p.begin(ctx, "")
	go p.run(h, epoch, func() error { return p.play(pctx, clip) })
	return h
}

// Stop interrupts the current playback; recognition resumes as after a
// natural end.
func (p *Player) Stop() {
	p.mu.Lock()
	h := p.current
	p.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Reset stops playback without resuming recognition. Used when the call
// ends and capture is being torn down anyway.
func (p *Player) Reset() {
	p.mu.Lock()
	h := p.current
	p.current = nil
	p.epoch++
	p.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Current returns the active handle, or nil.
func (p *Player) Current() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) begin(ctx context.Context, text string) (*Handle, context.Context, string, uint64) {
	pctx, cancel := context.WithCancel(ctx)
	h := &Handle{text: text, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if p.rec != nil {
		p.rec.Pause()
	}
	prev := p.current
	p.current = h
	voiceID, epoch := p.voiceID, p.epoch
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
		p.metrics.PlaybackEvents.WithLabelValues("replaced").Inc()
	}
	p.metrics.PlaybackEvents.WithLabelValues("started").Inc()
	return h, pctx, voiceID, epoch
}

func (p *Player) play(ctx context.Context, clip Audio) error {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	err := p.out.Play(ctx, clip)
	p.metrics.ObserveStage(observability.StagePlayback, time.Since(started))
	return err
}

func (p *Player) run(h *Handle, epoch uint64, work func() error) {
	err := work()
	switch {
	case errors.Is(err, context.Canceled):
		p.metrics.PlaybackEvents.WithLabelValues("stopped").Inc()
		err = nil
	case err != nil:
		p.metrics.PlaybackEvents.WithLabelValues("error").Inc()
		p.log.Error("playback failed", "error", err)
	default:
		p.metrics.PlaybackEvents.WithLabelValues("finished").Inc()
	}
	h.err = err
	h.cancel()
	close(h.done)

	if p.resumeDelay > 0 {
		time.Sleep(p.resumeDelay)
	}
	p.resumeAfter(h, epoch)
}

// resumeAfter resumes recognition if h is still the latest playback. The
// check and the resume happen under mu so a concurrent begin cannot pause
// in between.
func (p *Player) resumeAfter(h *Handle, epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != h || p.epoch != epoch {
		return
	}
	p.current = nil
	if p.rec == nil {
		return
	}
	err := p.rec.Resume()
	if err == nil {
		p.metrics.PlaybackEvents.WithLabelValues("resumed").Inc()
		return
	}
	if !errors.Is(err, capture.ErrInvalidState) {
		p.metrics.PlaybackEvents.WithLabelValues("resume_failed").Inc()
		p.log.Error("resume recognition failed", "error", err)
		return
	}
	p.log.Warn("recognition not running, resetting capture", "error", err)
	if err := p.rec.Reset(context.Background()); err != nil {
		p.metrics.PlaybackEvents.WithLabelValues("resume_failed").Inc()
		p.log.Error("capture reset failed, recognition stays paused", "error", err)
		return
	}
	p.metrics.PlaybackEvents.WithLabelValues("resume_reset").Inc()
}
