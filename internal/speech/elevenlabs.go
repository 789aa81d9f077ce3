package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

func (s VoiceSettings) normalized() VoiceSettings {
	if s.Stability <= 0 {
		s.Stability = 0.42
	}
	if s.Stability > 1 {
		s.Stability = 1
	}
	if s.SimilarityBoost <= 0 {
		s.SimilarityBoost = 0.85
	}
	if s.SimilarityBoost > 1 {
		s.SimilarityBoost = 1
	}
	if s.Speed <= 0 {
		s.Speed = 1.0
	}
	if s.Speed < 0.7 {
		s.Speed = 0.7
	} else if s.Speed > 1.2 {
		s.Speed = 1.2
	}
	return s
}

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	ModelID      string
	OutputFormat string
	Settings     VoiceSettings
	Dialer       *websocket.Dialer
}

// ElevenLabsSynthesizer uses the stream-input websocket: one connection per
// utterance, text sent in a single chunk, audio collected until isFinal.
type ElevenLabsSynthesizer struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.Settings = cfg.Settings.normalized()
	return &ElevenLabsSynthesizer{cfg: cfg}
}

func (s *ElevenLabsSynthesizer) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, voiceID, text string) (Audio, error) {
	if strings.TrimSpace(voiceID) == "" {
		return Audio{}, errors.New("voice_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}
	target, err := s.streamURL(voiceID)
	if err != nil {
		return Audio{}, err
	}

	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)
	conn, _, err := s.cfg.Dialer.DialContext(ctx, target, headers)
	if err != nil {
		return Audio{}, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()
	// Unblock ReadMessage when the playback is stopped mid-synthesis.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	settings := s.cfg.Settings
	frames := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        settings.Stability,
				"similarity_boost": settings.SimilarityBoost,
				"speed":            settings.Speed,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return Audio{}, fmt.Errorf("write tts frame: %w", err)
		}
	}

	format, rate := parseOutputFormat(s.cfg.OutputFormat)
	clip := Audio{Format: format, SampleRate: rate}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Audio{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(clip.Data) > 0 {
				return clip, nil
			}
			return Audio{}, fmt.Errorf("read tts stream: %w", err)
		}
		var msg struct {
			Audio       string `json:"audio"`
			IsFinal     bool   `json:"isFinal"`
			IsFinalAlt  bool   `json:"is_final"`
			Error       string `json:"error"`
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return Audio{}, &ProviderError{Provider: "elevenlabs", Code: msg.MessageType, Detail: msg.Error}
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return Audio{}, fmt.Errorf("decode tts chunk: %w", err)
			}
			clip.Data = append(clip.Data, chunk...)
		}
		if msg.IsFinal || msg.IsFinalAlt {
			return clip, nil
		}
	}
}
