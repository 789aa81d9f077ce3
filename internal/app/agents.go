package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/voxline/internal/agent"
)

// remoteAgents is the subset of the backend client used to resolve agents.
type remoteAgents interface {
	GetAgent(ctx context.Context, id string) (agent.Config, error)
}

// AgentSource serves the file-defined agent first and asks the backend for
// everything else.
type AgentSource struct {
	local  *agent.Config
	remote remoteAgents
}

func newAgentSource(path string, remote remoteAgents) (*AgentSource, error) {
	src := &AgentSource{remote: remote}
	if strings.TrimSpace(path) == "" {
		return src, nil
	}
	cfg, err := agent.LoadFile(path)
	if err != nil {
		return nil, err
	}
	src.local = &cfg
	return src, nil
}

// Local returns the file-defined agent, if any.
func (s *AgentSource) Local() (agent.Config, bool) {
	if s.local == nil {
		return agent.Config{}, false
	}
	return *s.local, true
}

func (s *AgentSource) GetAgent(ctx context.Context, id string) (agent.Config, error) {
	id = strings.TrimSpace(id)
	if s.local != nil && (id == "" || strings.EqualFold(id, s.local.ID)) {
		return *s.local, nil
	}
	if s.remote == nil {
		return agent.Config{}, fmt.Errorf("%w: %s (no backend configured)", agent.ErrNotFound, id)
	}
	return s.remote.GetAgent(ctx, id)
}
