// Package agent defines the per-call configuration of a voice agent.
package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antoniostano/voxline/internal/tools"
)

// DefaultGreeting is spoken when an agent that talks first has none configured.
const DefaultGreeting = "Hello! How can I help you today?"

var ErrNotFound = errors.New("agent not found")

// TimeoutPolicy bounds a call. Zero disables a timer.
type TimeoutPolicy struct {
	FixedDurationSeconds int    `json:"fixed_duration_seconds,omitempty" yaml:"fixed_duration_seconds,omitempty"`
	NoActivitySeconds    int    `json:"no_activity_seconds,omitempty" yaml:"no_activity_seconds,omitempty"`
	EndMessage           string `json:"end_message,omitempty" yaml:"end_message,omitempty"`
}

func (p TimeoutPolicy) FixedDuration() time.Duration {
	return time.Duration(p.FixedDurationSeconds) * time.Second
}

func (p TimeoutPolicy) NoActivity() time.Duration {
	return time.Duration(p.NoActivitySeconds) * time.Second
}

// Config is everything a call needs to know about its agent.
type Config struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name,omitempty" yaml:"name,omitempty"`
	Identity        string             `json:"identity" yaml:"identity"`
	VoiceID         string             `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
	Greeting        string             `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	UserStartsFirst bool               `json:"user_starts_first,omitempty" yaml:"user_starts_first,omitempty"`
	Timeout         TimeoutPolicy      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DocumentIDs     []string           `json:"document_ids,omitempty" yaml:"document_ids,omitempty"`
	Tools           []tools.Definition `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Documents holds inline knowledge for file-defined agents, keyed by id.
	Documents map[string]string `json:"documents,omitempty" yaml:"documents,omitempty"`
}

// GreetingText returns the configured greeting or the default.
func (c Config) GreetingText() string {
	if g := strings.TrimSpace(c.Greeting); g != "" {
		return g
	}
	return DefaultGreeting
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("agent id is required")
	}
	if c.Timeout.FixedDurationSeconds < 0 || c.Timeout.NoActivitySeconds < 0 {
		return fmt.Errorf("agent %s: timeouts must be >= 0", c.ID)
	}
	seen := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", c.ID, err)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return fmt.Errorf("agent %s: duplicate tool %q", c.ID, t.Name)
		}
		seen[key] = true
	}
	return nil
}

// Parse decodes a YAML (or JSON) agent definition and validates it.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode agent: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read agent file: %w", err)
	}
	return Parse(raw)
}
