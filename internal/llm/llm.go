// Package llm adapts language model providers to a single Generate call
// over the ordered conversation history.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one history entry as the model sees it.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

var ErrEmptyReply = errors.New("model returned empty text")

// Generator produces the next model turn for history under a system
// instruction. The last message is the pending user turn.
type Generator interface {
	Generate(ctx context.Context, history []Message, instruction string) (string, error)
}

// Config controls generator construction.
type Config struct {
	// Mode is auto, gemini, http or mock.
	Mode         string
	GeminiAPIKey string
	GeminiModel  string
	HTTPURL      string
}

// New picks a generator for cfg. In auto mode Gemini is preferred when a key
// is present, then the HTTP endpoint, then the deterministic mock.
func New(ctx context.Context, cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAuto(ctx, cfg)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("gemini api key is required for gemini mode")
		}
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func newAuto(ctx context.Context, cfg Config) (Generator, error) {
	var secondary Generator = NewMockGenerator()
	if url := strings.TrimSpace(cfg.HTTPURL); url != "" {
		secondary = NewHTTPGenerator(url)
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gem, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		if _, isMock := secondary.(*MockGenerator); isMock {
			return gem, nil
		}
		return NewFallbackGenerator(gem, secondary), nil
	}
	return secondary, nil
}

// FallbackGenerator tries primary first and falls back on error, unless
// the caller gave up.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Generate(ctx context.Context, history []Message, instruction string) (string, error) {
	if g.primary == nil {
		if g.fallback == nil {
			return "", errors.New("fallback generator misconfigured")
		}
		return g.fallback.Generate(ctx, history, instruction)
	}
	text, err := g.primary.Generate(ctx, history, instruction)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || g.fallback == nil {
		return "", err
	}
	text, fallbackErr := g.fallback.Generate(ctx, history, instruction)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return text, nil
}
