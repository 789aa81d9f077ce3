package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/api/option"

	"github.com/antoniostano/voxline/internal/agent"
	"github.com/antoniostano/voxline/internal/audio"
	"github.com/antoniostano/voxline/internal/backend"
	"github.com/antoniostano/voxline/internal/capture"
	"github.com/antoniostano/voxline/internal/channel"
	"github.com/antoniostano/voxline/internal/config"
	"github.com/antoniostano/voxline/internal/conversation"
	"github.com/antoniostano/voxline/internal/httpapi"
	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/llm"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/session"
	"github.com/antoniostano/voxline/internal/speech"
	"github.com/antoniostano/voxline/internal/tools"
	"github.com/antoniostano/voxline/internal/transcript"
)

type SpeechInfo struct {
	Provider       string
	Detail         string
	DefaultVoiceID string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *session.Controller
	Agents     *AgentSource
	Metrics    *observability.Metrics
	Speech     SpeechInfo

	// Cleanup ends any running call and releases external resources (DB pools).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	log := observability.Logger()

	var remote *backend.Client
	if strings.TrimSpace(cfg.BackendURL) != "" {
		c, err := backend.New(cfg.BackendURL, cfg.BackendToken)
		if err != nil {
			return nil, fmt.Errorf("backend client init failed: %w", err)
		}
		remote = c
	}

	var closers []func() error
	cleanupAll := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanupAll()
		return nil, err
	}

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}
	closers = append(closers, transcripts.Close)

	var sharedDocs []knowledge.Source
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := knowledge.NewPostgresSource(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("knowledge store init failed: %w", err))
		}
		closers = append(closers, pg.Close)
		sharedDocs = append(sharedDocs, pg)
	}
	if remote != nil {
		sharedDocs = append(sharedDocs, remote)
	}

	generator, err := llm.New(ctx, llm.Config{
		Mode:         cfg.LLMProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		HTTPURL:      cfg.LLMHTTPURL,
	})
	if err != nil {
		return fail(fmt.Errorf("llm init failed: %w", err))
	}

	sheets, err := resolveSheets(ctx, cfg, remote)
	if err != nil {
		return fail(err)
	}
	executor := tools.NewExecutor(sheets,
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithMetrics(metrics),
		tools.WithLogger(log),
	)

	device, err := resolveCaptureDevice(cfg)
	if err != nil {
		return fail(err)
	}
	encoder := capture.NewEncoder(device, audio.SampleRate, metrics, log)

	tts, err := resolveSpeech(cfg)
	if err != nil {
		return fail(err)
	}
	out, err := speech.NewOutput(cfg.PlaybackOutput, cfg.PlaybackDir)
	if err != nil {
		return fail(fmt.Errorf("playback output init failed: %w", err))
	}
	player := speech.NewPlayer(tts.synth, out, encoder,
		speech.WithResumeDelay(cfg.ResumeDelay),
		speech.WithVoice(cfg.DefaultVoiceID),
		speech.WithMetrics(metrics),
		speech.WithLogger(log),
	)

	channelCfg := channel.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		HandshakeTimeout:  cfg.HandshakeTimeout,
	}
	channels := func(isActive func() bool, h channel.Handlers) session.Channel {
		return channel.New(channelCfg, isActive, h, channel.WithMetrics(metrics), channel.WithLogger(log))
	}

	processors := processorFactory{
		generator: generator,
		runner:    executor,
		shared:    sharedDocs,
		metrics:   metrics,
		log:       log,
	}.build

	controller := session.NewController(session.Deps{
		Capture:    encoder,
		Channels:   channels,
		Processors: processors,
		Speaker:    player,
		ChannelURL: cfg.ChannelURL,
	},
		session.WithQueueSize(cfg.TurnQueueSize),
		session.WithTurnTimeout(cfg.TurnTimeout),
		session.WithTranscripts(transcripts),
		session.WithMetrics(metrics),
		session.WithLogger(log),
	)
	closers = append(closers, func() error {
		controller.Stop()
		return nil
	})

	var remoteAgentSource remoteAgents
	if remote != nil {
		remoteAgentSource = remote
	}
	agents, err := newAgentSource(cfg.AgentFile, remoteAgentSource)
	if err != nil {
		return fail(fmt.Errorf("agent file: %w", err))
	}

	api := httpapi.New(cfg, controller, agents, transcripts, metrics)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Agents:     agents,
		Metrics:    metrics,
		Speech: SpeechInfo{
			Provider:       tts.resolvedProvider,
			Detail:         tts.detail,
			DefaultVoiceID: cfg.DefaultVoiceID,
		},
		Cleanup: cleanupAll,
	}, nil
}

type processorFactory struct {
	generator llm.Generator
	runner    conversation.ToolRunner
	shared    []knowledge.Source
	metrics   *observability.Metrics
	log       *slog.Logger
}

// build layers the agent's inline documents over the shared sources.
func (f processorFactory) build(a agent.Config) session.TurnProcessor {
	docs := make(knowledge.Chain, 0, len(f.shared)+1)
	if len(a.Documents) > 0 {
		docs = append(docs, knowledge.NewInMemorySource(a.Documents))
	}
	docs = append(docs, f.shared...)
	return conversation.NewProcessor(conversation.Options{
		Identity:    a.Identity,
		DocumentIDs: documentIDs(a),
		Tools:       a.Tools,
		Generator:   f.generator,
		Runner:      f.runner,
		Documents:   docs,
		Metrics:     f.metrics,
		Logger:      f.log,
	})
}

// documentIDs falls back to the inline document keys, sorted, when the agent
// lists no ids of its own.
func documentIDs(a agent.Config) []string {
	if len(a.DocumentIDs) > 0 || len(a.Documents) == 0 {
		return a.DocumentIDs
	}
	ids := make([]string, 0, len(a.Documents))
	for id := range a.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func resolveSheets(ctx context.Context, cfg config.Config, remote *backend.Client) (tools.SheetAppender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SheetsMode)) {
	case "google":
		var opts []option.ClientOption
		if path := strings.TrimSpace(cfg.SheetsCredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		a, err := tools.NewGoogleSheetsAppender(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("google sheets init failed: %w", err)
		}
		return a, nil
	default:
		if remote == nil {
			// Sheet tools fail cleanly without a backend to relay them.
			return nil, nil
		}
		return remote, nil
	}
}

func resolveCaptureDevice(cfg config.Config) (capture.Device, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CaptureDevice)) {
	case "", "silence":
		return capture.SilenceDevice{Rate: cfg.CaptureSampleRate, BlockSize: cfg.CaptureBlockSize}, nil
	case "portaudio", "mic", "microphone":
		return capture.PortAudioDevice{Rate: cfg.CaptureSampleRate, BlockSize: cfg.CaptureBlockSize}, nil
	default:
		return nil, fmt.Errorf("unsupported VOXLINE_CAPTURE_DEVICE %q (expected silence|portaudio)", cfg.CaptureDevice)
	}
}
