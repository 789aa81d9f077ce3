package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/llm"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/tools"
)

type scriptedGenerator struct {
	mu           sync.Mutex
	replies      []string
	err          error
	instructions []string
	histories    [][]llm.Message
	block        chan struct{}
}

func (g *scriptedGenerator) Generate(_ context.Context, history []llm.Message, instruction string) (string, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions = append(g.instructions, instruction)
	g.histories = append(g.histories, append([]llm.Message(nil), history...))
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

type recordingRunner struct {
	mu    sync.Mutex
	calls []map[string]any
	names []string
	ok    bool
}

func (r *recordingRunner) Execute(_ context.Context, def tools.Definition, data map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	r.names = append(r.names, def.Name)
	return r.ok
}

type countingSource struct {
	mu    sync.Mutex
	hits  int
	inner knowledge.Source
}

func (s *countingSource) DocumentContent(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	return s.inner.DocumentContent(ctx, id)
}

var bookTool = tools.Definition{
	Name:        "X",
	Description: "book a table",
	Kind:        tools.KindForm,
	Parameters:  []tools.Parameter{{Name: "a", Type: "number", Required: true}},
}

func newTestProcessor(gen llm.Generator, runner ToolRunner, defs ...tools.Definition) *Processor {
	return NewProcessor(Options{
		Identity:  "You are a helpful host.",
		Tools:     defs,
		Generator: gen,
		Runner:    runner,
		Logger:    observability.Discard(),
	})
}

func TestProcessTurnAppendsUserThenAgent(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Hi! For how many people?"}}
	p := newTestProcessor(gen, nil)

	reply, err := p.ProcessTurn(context.Background(), "I'd like a table")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if reply != "Hi! For how many people?" {
		t.Fatalf("reply = %q", reply)
	}
	h := p.History()
	if len(h) != 2 || h[0] != (Turn{Role: RoleUser, Text: "I'd like a table"}) || h[1].Role != RoleAgent {
		t.Fatalf("history = %#v", h)
	}
	if got := gen.histories[0]; len(got) != 1 || got[0].Role != llm.RoleUser {
		t.Fatalf("model history = %#v", got)
	}
}

func TestProcessTurnMapsAgentRoleToModel(t *testing.T) {
	gen := &scriptedGenerator{}
	p := newTestProcessor(gen, nil)
	_, _ = p.ProcessTurn(context.Background(), "one")
	_, _ = p.ProcessTurn(context.Background(), "two")

	got := gen.histories[1]
	if len(got) != 3 || got[0].Role != llm.RoleUser || got[1].Role != llm.RoleModel || got[2].Text != "two" {
		t.Fatalf("second model history = %#v", got)
	}
}

func TestToolInvocationRunsExactlyOnceWithData(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"tool":"X","data":{"a":1}}`}}
	runner := &recordingRunner{ok: true}
	p := newTestProcessor(gen, runner, bookTool)

	reply, err := p.ProcessTurn(context.Background(), "two people")
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(runner.calls))
	}
	if len(runner.calls[0]) != 1 || runner.calls[0]["a"] != float64(1) {
		t.Fatalf("data = %#v, want {a:1}", runner.calls[0])
	}
	if reply != toolSuccessMessage("X") {
		t.Fatalf("reply = %q", reply)
	}
	if h := p.History(); h[1].Text != reply {
		t.Fatalf("agent turn = %q, want canned reply", h[1].Text)
	}
}

func TestToolInvocationFailureGivesRetryMessage(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"```json\n{\"tool\": \"x\", \"data\": {}}\n```"}}
	runner := &recordingRunner{ok: false}
	p := newTestProcessor(gen, runner, bookTool)

	reply, _ := p.ProcessTurn(context.Background(), "go")
	if reply != toolRetryMessage("X") || len(runner.calls) != 1 {
		t.Fatalf("reply = %q calls = %d", reply, len(runner.calls))
	}
}

func TestUnknownToolGivesNotFoundMessage(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{"tool":"Y","data":{"a":1}}`}}
	runner := &recordingRunner{ok: true}
	p := newTestProcessor(gen, runner, bookTool)

	reply, _ := p.ProcessTurn(context.Background(), "go")
	if reply != toolNotFoundMessage || len(runner.calls) != 0 {
		t.Fatalf("reply = %q calls = %d", reply, len(runner.calls))
	}
}

func TestNonInvocationRepliesAreVerbatim(t *testing.T) {
	cases := []string{
		"tool: maybe",
		`{"tool":"X"}`,
		`{"tool":"","data":{}}`,
		`{"tool":"X","data":[1,2]}`,
		`{"tool":"X","data":null}`,
		`Sure! {"tool":"X","data":{}}`,
	}
	for _, text := range cases {
		runner := &recordingRunner{ok: true}
		p := newTestProcessor(&scriptedGenerator{replies: []string{text}}, runner, bookTool)
		reply, err := p.ProcessTurn(context.Background(), "hi")
		if err != nil {
			t.Fatalf("ProcessTurn(%q) error = %v", text, err)
		}
		if reply != text || len(runner.calls) != 0 {
			t.Fatalf("ProcessTurn(%q) reply = %q calls = %d", text, reply, len(runner.calls))
		}
	}
}

func TestModelFailureKeepsUserTurnAndWraps(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("quota exceeded")}
	p := newTestProcessor(gen, nil)

	_, err := p.ProcessTurn(context.Background(), "hello?")
	if !errors.Is(err, ErrUpstreamModel) {
		t.Fatalf("error = %v, want ErrUpstreamModel", err)
	}
	h := p.History()
	if len(h) != 1 || h[0].Role != RoleUser {
		t.Fatalf("history = %#v", h)
	}
}

func TestConcurrentTurnsStayOrdered(t *testing.T) {
	gen := &scriptedGenerator{}
	p := newTestProcessor(gen, nil)

	var wg sync.WaitGroup
	for _, text := range []string{"T1", "T2", "T3"} {
		text := text
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.ProcessTurn(context.Background(), text)
		}()
	}
	wg.Wait()

	h := p.History()
	if len(h) != 6 {
		t.Fatalf("history len = %d, want 6", len(h))
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != RoleUser || h[i+1].Role != RoleAgent {
			t.Fatalf("turns interleaved: %#v", h)
		}
	}
}

func TestResetDiscardsLateReply(t *testing.T) {
	gen := &scriptedGenerator{block: make(chan struct{})}
	p := newTestProcessor(gen, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.ProcessTurn(context.Background(), "slow question")
	}()
	for len(p.History()) == 0 {
		time.Sleep(time.Millisecond)
	}
	p.Reset()
	close(gen.block)
	<-done

	if h := p.History(); len(h) != 0 {
		t.Fatalf("history after reset = %#v, want empty", h)
	}
}

func TestInstructionIncludesKnowledgeAndCatalog(t *testing.T) {
	src := &countingSource{inner: knowledge.NewInMemorySource(map[string]string{"menu": "Pasta 12"})}
	gen := &scriptedGenerator{}
	p := NewProcessor(Options{
		Identity:    "You are Ada.",
		DocumentIDs: []string{"menu", "missing"},
		Tools:       []tools.Definition{bookTool},
		Generator:   gen,
		Documents:   src,
		Logger:      observability.Discard(),
	})
	_, _ = p.ProcessTurn(context.Background(), "one")
	_, _ = p.ProcessTurn(context.Background(), "two")

	inst := gen.instructions[0]
	for _, want := range []string{"You are Ada.", "--- menu ---", "Pasta 12", "- X: book a table", "a (number, required)", `{"tool"`} {
		if !strings.Contains(inst, want) {
			t.Fatalf("instruction missing %q:\n%s", want, inst)
		}
	}
	if src.hits != 2 {
		t.Fatalf("document fetches = %d, want 2 (once per id)", src.hits)
	}

	p.Reset()
	_, _ = p.ProcessTurn(context.Background(), "three")
	if src.hits != 4 {
		t.Fatalf("document fetches after reset = %d, want 4", src.hits)
	}
}

func TestInstructionIdentityOnly(t *testing.T) {
	if got := BuildInstruction("  Be brief. ", nil, nil); got != "Be brief." {
		t.Fatalf("BuildInstruction() = %q", got)
	}
}
