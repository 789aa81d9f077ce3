package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/voxline/internal/config"
	"github.com/antoniostano/voxline/internal/speech"
)

type speechSetup struct {
	synth            speech.Synthesizer
	resolvedProvider string
	detail           string
}

// resolveSpeech picks the synthesizer for cfg.TTSProvider. ElevenLabs always
// fails over to the mock.
func resolveSpeech(cfg config.Config) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider))
	if mode == "" {
		mode = "auto"
	}

	elevenLabs := func() speechSetup {
		primary := speech.NewElevenLabsSynthesizer(speech.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsOutFormat,
		})
		return speechSetup{
			synth:            speech.NewFailoverSynthesizer(primary, speech.NewMockSynthesizer(), ""),
			resolvedProvider: "elevenlabs",
			detail:           "elevenlabs stream-input, mock failover",
		}
	}
	mock := speechSetup{
		synth:            speech.NewMockSynthesizer(),
		resolvedProvider: "mock",
		detail:           "silent mock synthesis",
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
			return elevenLabs(), nil
		}
		return mock, nil
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return speechSetup{}, fmt.Errorf("ELEVENLABS_API_KEY is required for VOXLINE_TTS_PROVIDER=elevenlabs")
		}
		return elevenLabs(), nil
	case "mock":
		return mock, nil
	default:
		return speechSetup{}, fmt.Errorf("unsupported VOXLINE_TTS_PROVIDER %q (expected auto|elevenlabs|mock)", cfg.TTSProvider)
	}
}
