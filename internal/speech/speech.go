// Package speech turns agent replies into audio and plays them back while
// the caller's recognition is paused.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/voxline/internal/audio"
	"github.com/antoniostano/voxline/internal/reliability"
)

const (
	FormatPCM16 = "pcm16"
	FormatMP3   = "mp3"
)

var (
	ErrEmptyText         = errors.New("nothing to speak")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Recognizer is the gate on caller audio: capture is paused while the agent
// speaks so the agent does not transcribe itself.
type Recognizer interface {
	Pause()
	Resume() error
	Reset(ctx context.Context) error
}

// Audio is one synthesized or received clip.
type Audio struct {
	Data       []byte
	Format     string
	SampleRate int
}

// Duration is the playback length of PCM16 clips and zero otherwise.
func (a Audio) Duration() time.Duration {
	if a.Format != FormatPCM16 {
		return 0
	}
	return audio.Duration(len(a.Data), a.SampleRate)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) (Audio, error)
}

// Output renders a clip. Play blocks until the clip finished or ctx is done.
type Output interface {
	Play(ctx context.Context, clip Audio) error
}

// ProviderError is an error frame reported by a streaming provider.
type ProviderError struct {
	Provider string
	Code     string
	Detail   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Provider, e.Code, e.Detail)
}

func (e *ProviderError) Retryable() bool {
	return reliability.IsRetryableProviderCode(e.Code)
}

// parseOutputFormat maps provider format names such as "pcm_16000" or
// "mp3_44100_128" to a clip format and sample rate.
func parseOutputFormat(name string) (string, int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	rate := audio.SampleRate
	if len(parts) > 1 {
		if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
			rate = v
		}
	}
	switch parts[0] {
	case "pcm":
		return FormatPCM16, rate
	case "":
		return FormatPCM16, rate
	default:
		return parts[0], rate
	}
}
