package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// FailoverSynthesizer asks the primary provider for every utterance and only
// uses the fallback when the primary fails on that utterance.
type FailoverSynthesizer struct {
	primary         Synthesizer
	fallback        Synthesizer
	fallbackVoiceID string
	lastFellBack    atomic.Bool
}

func NewFailoverSynthesizer(primary, fallback Synthesizer, fallbackVoiceID string) *FailoverSynthesizer {
	return &FailoverSynthesizer{
		primary:         primary,
		fallback:        fallback,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
	}
}

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, voiceID, text string) (Audio, error) {
	clip, prErr := f.primary.Synthesize(ctx, voiceID, text)
	if prErr == nil || stopped(ctx, prErr) {
		f.lastFellBack.Store(false)
		return clip, prErr
	}
	clip, fbErr := f.synthesizeFallback(ctx, voiceID, text)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	f.lastFellBack.Store(true)
	return clip, nil
}

// FallbackActive reports whether the most recent utterance was served by the
// fallback.
func (f *FailoverSynthesizer) FallbackActive() bool {
	return f.lastFellBack.Load()
}

func (f *FailoverSynthesizer) synthesizeFallback(ctx context.Context, voiceID, text string) (Audio, error) {
	if f.fallbackVoiceID != "" {
		voiceID = f.fallbackVoiceID
	}
	return f.fallback.Synthesize(ctx, voiceID, text)
}

// stopped is true for cancellations and empty input, which another provider
// would not fix.
func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrEmptyText)
}
