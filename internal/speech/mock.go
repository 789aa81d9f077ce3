package speech

import (
	"context"
	"strings"
	"time"

	"github.com/antoniostano/voxline/internal/audio"
)

// MockSynthesizer renders silence whose length follows the word count, so
// playback timing behaves like real speech without a provider.
type MockSynthesizer struct {
	WordDuration time.Duration
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{WordDuration: 250 * time.Millisecond}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, _ string, text string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return Audio{}, ErrEmptyText
	}
	per := m.WordDuration
	if per <= 0 {
		per = 250 * time.Millisecond
	}
	samples := int(time.Duration(words) * per * audio.SampleRate / time.Second)
	return Audio{
		Data:       make([]byte, samples*audio.BytesPerSample),
		Format:     FormatPCM16,
		SampleRate: audio.SampleRate,
	}, nil
}
