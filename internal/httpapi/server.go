package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voxline/internal/agent"
	"github.com/antoniostano/voxline/internal/capture"
	"github.com/antoniostano/voxline/internal/config"
	"github.com/antoniostano/voxline/internal/conversation"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/session"
	"github.com/antoniostano/voxline/internal/transcript"
)

// Controller is the call lifecycle the API drives. *session.Controller
// satisfies it.
type Controller interface {
	Start(ctx context.Context, cfg agent.Config) (session.Session, error)
	Stop()
	Snapshot() session.Session
	History() []conversation.Turn
	Subscribe(buffer int) (<-chan session.Event, func())
}

// AgentSource resolves agent ids to configurations.
type AgentSource interface {
	GetAgent(ctx context.Context, id string) (agent.Config, error)
}

type Server struct {
	cfg         config.Config
	calls       Controller
	agents      AgentSource
	transcripts transcript.Store
	metrics     *observability.Metrics
	log         *slog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, calls Controller, agents AgentSource, transcripts transcript.Store, metrics *observability.Metrics) *Server {
	if metrics == nil {
		metrics = observability.NewMetrics("voxline")
	}
	return &Server{
		cfg:         cfg,
		calls:       calls,
		agents:      agents,
		transcripts: transcripts,
		metrics:     metrics,
		log:         observability.Logger().With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin browsers only, unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Post("/v1/call/start", s.handleStartCall)
	r.Post("/v1/call/stop", s.handleStopCall)
	r.Get("/v1/call", s.handleGetCall)
	r.Get("/v1/call/events", s.handleCallEvents)
	r.Get("/v1/call/{id}/transcript", s.handleTranscript)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.calls.Snapshot().State,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"transcript_store":  s.transcriptMode(),
		"agent_source_set":  s.agents != nil,
		"default_agent_set": strings.TrimSpace(s.cfg.AgentID) != "",
	})
}

type startCallRequest struct {
	AgentID string        `json:"agent_id,omitempty"`
	Agent   *agent.Config `json:"agent,omitempty"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg, status, code, err := s.resolveAgent(r.Context(), req)
	if err != nil {
		respondError(w, status, code, err.Error())
		return
	}

	sess, err := s.calls.Start(r.Context(), cfg)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, sess)
	case errors.Is(err, session.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "call_in_progress", err.Error())
	case errors.Is(err, capture.ErrDeviceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "capture_unavailable", err.Error())
	default:
		s.log.Error("start call failed", "agent_id", cfg.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
	}
}

// resolveAgent prefers an inline definition, then an explicit id, then the
// configured default agent.
func (s *Server) resolveAgent(ctx context.Context, req startCallRequest) (agent.Config, int, string, error) {
	if req.Agent != nil {
		if err := req.Agent.Validate(); err != nil {
			return agent.Config{}, http.StatusBadRequest, "invalid_agent", err
		}
		return *req.Agent, 0, "", nil
	}
	id := strings.TrimSpace(req.AgentID)
	if id == "" {
		id = strings.TrimSpace(s.cfg.AgentID)
	}
	if id == "" {
		return agent.Config{}, http.StatusBadRequest, "missing_agent", errors.New("agent_id or agent is required")
	}
	if s.agents == nil {
		return agent.Config{}, http.StatusNotImplemented, "unavailable", errors.New("no agent source configured")
	}
	cfg, err := s.agents.GetAgent(ctx, id)
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return agent.Config{}, http.StatusNotFound, "agent_not_found", err
	case err != nil:
		return agent.Config{}, http.StatusBadGateway, "agent_unavailable", err
	}
	if err := cfg.Validate(); err != nil {
		return agent.Config{}, http.StatusUnprocessableEntity, "invalid_agent", err
	}
	return cfg, 0, "", nil
}

func (s *Server) handleStopCall(w http.ResponseWriter, _ *http.Request) {
	s.calls.Stop()
	respondJSON(w, http.StatusOK, s.calls.Snapshot())
}

type callResponse struct {
	Session session.Session     `json:"session"`
	History []conversation.Turn `json:"history"`
}

func (s *Server) handleGetCall(w http.ResponseWriter, _ *http.Request) {
	history := s.calls.History()
	if history == nil {
		history = []conversation.Turn{}
	}
	respondJSON(w, http.StatusOK, callResponse{Session: s.calls.Snapshot(), History: history})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	limit := 200
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.transcripts.SessionTurns(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	if records == nil {
		records = []transcript.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      records,
	})
}

// handleCallEvents streams controller events to a websocket client until
// either side goes away. Client frames are read only to notice the close.
func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("watcher_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.calls.Subscribe(64)
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					cancel()
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					s.metrics.ChannelEvents.WithLabelValues("watcher_write_error").Inc()
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("watcher_disconnected").Inc()
}

func (s *Server) transcriptMode() string {
	switch s.transcripts.(type) {
	case nil:
		return "disabled"
	case *transcript.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
