package httpapi

import (
	"net/http"
	"os"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	LLMProvider     string        `json:"llm_provider"`
	TTSProvider     string        `json:"tts_provider"`
	CaptureDevice   string        `json:"capture_device"`
	PlaybackOutput  string        `json:"playback_output"`
	SheetsMode      string        `json:"sheets_mode"`
	TranscriptStore string        `json:"transcript_store"`
	Checks          []statusCheck `json:"checks"`
}

// handleStatus reports which providers are configured and what is missing
// before a call can run with real audio.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	llmProvider := providerOrAuto(s.cfg.LLMProvider)
	ttsProvider := providerOrAuto(s.cfg.TTSProvider)
	checks := make([]statusCheck, 0, 8)

	checks = append(checks, s.llmChecks(llmProvider)...)
	checks = append(checks, s.ttsChecks(ttsProvider)...)

	if strings.TrimSpace(s.cfg.ChannelURL) == "" {
		checks = append(checks, statusCheck{
			ID:     "channel_url",
			Status: "error",
			Label:  "Speech backend channel",
			Detail: "VOXLINE_CHANNEL_URL is empty",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "channel_url",
			Status: "ok",
			Label:  "Speech backend channel",
			Detail: s.cfg.ChannelURL,
		})
	}

	switch strings.ToLower(s.cfg.CaptureDevice) {
	case "silence", "":
		checks = append(checks, statusCheck{
			ID:     "capture_device",
			Status: "warn",
			Label:  "Microphone",
			Detail: "silence generator; the backend hears nothing",
			Fix:    "Build with -tags portaudio and set VOXLINE_CAPTURE_DEVICE=portaudio.",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "capture_device",
			Status: "ok",
			Label:  "Microphone",
			Detail: s.cfg.CaptureDevice,
		})
	}

	if strings.EqualFold(s.cfg.SheetsMode, "google") {
		checks = append(checks, s.googleSheetsCheck())
	} else if strings.TrimSpace(s.cfg.BackendURL) == "" {
		checks = append(checks, statusCheck{
			ID:     "backend",
			Status: "warn",
			Label:  "Agent backend",
			Detail: "VOXLINE_BACKEND_URL is not set; sheet tools and remote agents are unavailable",
			Fix:    "Set VOXLINE_BACKEND_URL or run calls with --agent file.yaml.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "backend",
			Status: "ok",
			Label:  "Agent backend",
			Detail: s.cfg.BackendURL,
		})
	}

	if s.transcriptMode() == "in-memory" {
		checks = append(checks, statusCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Transcript persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep transcripts across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		LLMProvider:     llmProvider,
		TTSProvider:     ttsProvider,
		CaptureDevice:   s.cfg.CaptureDevice,
		PlaybackOutput:  s.cfg.PlaybackOutput,
		SheetsMode:      s.cfg.SheetsMode,
		TranscriptStore: s.transcriptMode(),
		Checks:          checks,
	})
}

func (s *Server) llmChecks(provider string) []statusCheck {
	hasGemini := strings.TrimSpace(s.cfg.GeminiAPIKey) != ""
	hasHTTP := strings.TrimSpace(s.cfg.LLMHTTPURL) != ""
	switch provider {
	case "gemini":
		if !hasGemini {
			return []statusCheck{{
				ID:     "llm_gemini_key",
				Status: "error",
				Label:  "Language model (Gemini)",
				Detail: "GEMINI_API_KEY is not set",
				Fix:    "Set GEMINI_API_KEY or switch VOXLINE_LLM_PROVIDER.",
			}}
		}
	case "http":
		if !hasHTTP {
			return []statusCheck{{
				ID:     "llm_http_url",
				Status: "error",
				Label:  "Language model (HTTP)",
				Detail: "VOXLINE_LLM_HTTP_URL is not set",
			}}
		}
	case "mock":
		return []statusCheck{{
			ID:     "llm_mock",
			Status: "warn",
			Label:  "Language model is mock",
			Detail: "replies echo the caller",
		}}
	case "auto":
		if !hasGemini && !hasHTTP {
			return []statusCheck{{
				ID:     "llm_auto",
				Status: "warn",
				Label:  "Language model",
				Detail: "no Gemini key or HTTP endpoint; falling back to mock",
				Fix:    "Set GEMINI_API_KEY or VOXLINE_LLM_HTTP_URL.",
			}}
		}
	default:
		return []statusCheck{{
			ID:     "llm_provider_unknown",
			Status: "error",
			Label:  "Language model",
			Detail: "unknown provider; expected auto|gemini|http|mock",
		}}
	}
	return []statusCheck{{ID: "llm", Status: "ok", Label: "Language model", Detail: provider}}
}

func (s *Server) ttsChecks(provider string) []statusCheck {
	hasKey := strings.TrimSpace(s.cfg.ElevenLabsAPIKey) != ""
	switch provider {
	case "elevenlabs":
		if !hasKey {
			return []statusCheck{{
				ID:     "elevenlabs_key",
				Status: "error",
				Label:  "ElevenLabs API key",
				Detail: "ELEVENLABS_API_KEY is not set",
				Fix:    "Set ELEVENLABS_API_KEY or switch to VOXLINE_TTS_PROVIDER=mock.",
			}}
		}
		return []statusCheck{{ID: "elevenlabs_key", Status: "ok", Label: "ElevenLabs API key", Detail: "present"}}
	case "mock":
		return []statusCheck{{
			ID:     "tts_mock",
			Status: "warn",
			Label:  "Speech synthesis is mock",
			Detail: "replies are played as silence",
		}}
	case "auto":
		if !hasKey {
			return []statusCheck{{
				ID:     "tts_auto",
				Status: "warn",
				Label:  "Speech synthesis",
				Detail: "no ElevenLabs key; using mock synthesis",
			}}
		}
		return []statusCheck{{ID: "tts", Status: "ok", Label: "Speech synthesis", Detail: "elevenlabs with mock failover"}}
	default:
		return []statusCheck{{
			ID:     "tts_provider_unknown",
			Status: "error",
			Label:  "Speech synthesis",
			Detail: "unknown provider; expected auto|elevenlabs|mock",
		}}
	}
}

func (s *Server) googleSheetsCheck() statusCheck {
	path := strings.TrimSpace(s.cfg.SheetsCredentialsFile)
	if path == "" {
		return statusCheck{
			ID:     "sheets_credentials",
			Status: "warn",
			Label:  "Google Sheets",
			Detail: "GOOGLE_APPLICATION_CREDENTIALS is not set; relying on default credentials",
		}
	}
	if _, err := os.Stat(path); err != nil {
		return statusCheck{
			ID:     "sheets_credentials",
			Status: "error",
			Label:  "Google Sheets",
			Detail: "credentials file missing",
			Fix:    "Point GOOGLE_APPLICATION_CREDENTIALS at a service account key.",
		}
	}
	return statusCheck{ID: "sheets_credentials", Status: "ok", Label: "Google Sheets", Detail: "credentials present"}
}

func providerOrAuto(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	if p == "" {
		return "auto"
	}
	return p
}
