// Package conversation runs one call's turn-taking with the language model.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/llm"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/tools"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one entry of the conversation, in call order.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ErrUpstreamModel wraps every language model failure.
var ErrUpstreamModel = errors.New("upstream model error")

// ToolRunner executes one tool invocation.
type ToolRunner interface {
	Execute(ctx context.Context, def tools.Definition, data map[string]any) bool
}

// Options configure a Processor for one agent.
type Options struct {
	Identity    string
	DocumentIDs []string
	Tools       []tools.Definition
	Generator   llm.Generator
	Runner      ToolRunner
	Documents   knowledge.Source
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Processor holds the history of a single call. ProcessTurn calls are
// serialized; Reset may run concurrently with one and wins.
type Processor struct {
	identity    string
	documentIDs []string
	defs        []tools.Definition
	gen         llm.Generator
	runner      ToolRunner
	docs        knowledge.Source
	metrics     *observability.Metrics
	log         *slog.Logger

	turnMu sync.Mutex

	mu         sync.Mutex
	history    []Turn
	epoch      uint64
	docsLoaded bool
	documents  []knowledge.Document
}

func NewProcessor(opts Options) *Processor {
	gen := opts.Generator
	if gen == nil {
		gen = llm.NewMockGenerator()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics("voxline")
	}
	log := opts.Logger
	if log == nil {
		log = observability.Logger()
	}
	return &Processor{
		identity:    opts.Identity,
		documentIDs: append([]string(nil), opts.DocumentIDs...),
		defs:        append([]tools.Definition(nil), opts.Tools...),
		gen:         gen,
		runner:      opts.Runner,
		docs:        opts.Documents,
		metrics:     metrics,
		log:         log.With("component", "conversation"),
	}
}

// ProcessTurn appends userText, asks the model for a reply, resolves a tool
// call if the reply is one, appends the reply and returns it. When the model
// fails the user turn stays in history and the error wraps ErrUpstreamModel.
func (p *Processor) ProcessTurn(ctx context.Context, userText string) (string, error) {
	p.turnMu.Lock()
	defer p.turnMu.Unlock()
	started := time.Now()

	p.mu.Lock()
	epoch := p.epoch
	p.history = append(p.history, Turn{Role: RoleUser, Text: userText})
	messages := toMessages(p.history)
	p.mu.Unlock()

	instruction := BuildInstruction(p.identity, p.loadDocuments(ctx, epoch), p.defs)

	modelStarted := time.Now()
	reply, err := p.gen.Generate(ctx, messages, instruction)
	p.metrics.ObserveStage(observability.StageModelCall, time.Since(modelStarted))
	if err != nil {
		p.metrics.TurnTotal.WithLabelValues("model_error").Inc()
		p.log.Error("model call failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstreamModel, err)
	}

	result := "reply"
	if inv, ok := parseInvocation(reply); ok {
		result = "tool"
		reply = p.runTool(ctx, inv)
	}

	p.mu.Lock()
	if p.epoch == epoch {
		p.history = append(p.history, Turn{Role: RoleAgent, Text: reply})
	} else {
		result = "discarded"
	}
	p.mu.Unlock()

	p.metrics.TurnTotal.WithLabelValues(result).Inc()
	p.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	return reply, nil
}

func (p *Processor) runTool(ctx context.Context, inv tools.Invocation) string {
	def, ok := tools.Lookup(p.defs, inv.Tool)
	if !ok {
		p.log.Warn("model called unknown tool", "tool", inv.Tool)
		return toolNotFoundMessage
	}
	if missing := def.Missing(inv.Data); len(missing) > 0 {
		// Soft contract: the call still runs.
		p.log.Warn("tool called without required parameters", "tool", def.Name, "missing", missing)
	}
	if p.runner == nil || !p.runner.Execute(ctx, def, inv.Data) {
		return toolRetryMessage(def.Name)
	}
	return toolSuccessMessage(def.Name)
}

// loadDocuments fetches the configured documents once per call.
func (p *Processor) loadDocuments(ctx context.Context, epoch uint64) []knowledge.Document {
	p.mu.Lock()
	if p.docsLoaded {
		docs := p.documents
		p.mu.Unlock()
		return docs
	}
	p.mu.Unlock()

	docs := knowledge.Load(ctx, p.docs, p.documentIDs, p.log)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch == epoch {
		p.docsLoaded = true
		p.documents = docs
	}
	return docs
}

// Reset clears history and the document cache. A turn still in flight
// will not append its reply.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.epoch++
	p.docsLoaded = false
	p.documents = nil
}

// History returns a copy of the turns so far.
func (p *Processor) History() []Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Turn(nil), p.history...)
}

func toMessages(turns []Turn) []llm.Message {
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		role := llm.RoleUser
		if t.Role == RoleAgent {
			role = llm.RoleModel
		}
		out[i] = llm.Message{Role: role, Text: t.Text}
	}
	return out
}
