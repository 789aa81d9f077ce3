// Package session drives one voice call at a time through
// idle → starting → active → ending → idle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/voxline/internal/agent"
	"github.com/antoniostano/voxline/internal/capture"
	"github.com/antoniostano/voxline/internal/channel"
	"github.com/antoniostano/voxline/internal/conversation"
	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/protocol"
	"github.com/antoniostano/voxline/internal/speech"
	"github.com/antoniostano/voxline/internal/transcript"
)

var ErrAlreadyRunning = errors.New("a call is already in progress")

// Capture is the microphone pipeline. *capture.Encoder satisfies it.
type Capture interface {
	Start(ctx context.Context, sink capture.Sink) error
	Stop()
}

// Channel is the duplex link to the speech backend. *channel.Channel
// satisfies it.
type Channel interface {
	Connect(ctx context.Context, url string) error
	Send(msg protocol.Outbound) bool
	IsOpen() bool
	Close()
}

// ChannelFactory builds a fresh Channel for each call.
type ChannelFactory func(isActive func() bool, h channel.Handlers) Channel

// TurnProcessor is the per-call conversation. *conversation.Processor
// satisfies it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, userText string) (string, error)
	Reset()
	History() []conversation.Turn
}

// ProcessorFactory builds the conversation for one agent.
type ProcessorFactory func(cfg agent.Config) TurnProcessor

// Speaker plays agent speech. *speech.Player satisfies it.
type Speaker interface {
	SetVoice(voiceID string)
	Speak(ctx context.Context, text string) *speech.Handle
	PlayAudio(ctx context.Context, encoded string) *speech.Handle
	Reset()
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Capture    Capture
	Channels   ChannelFactory
	Processors ProcessorFactory
	Speaker    Speaker
	// ChannelURL is the backend endpoint before session query parameters.
	ChannelURL string
}

type Option func(*Controller)

func WithQueueSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithTurnTimeout bounds one model call plus tool execution.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.turnTimeout = d
		}
	}
}

func WithTranscripts(s transcript.Store) Option {
	return func(c *Controller) { c.transcripts = s }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// Controller is the sole writer of Session state. Every callback reads the
// state under mu at the moment it decides, and callbacks from a previous
// call are recognized by session id and ignored.
type Controller struct {
	deps        Deps
	queueSize   int
	turnTimeout time.Duration
	transcripts transcript.Store
	metrics     *observability.Metrics
	log         *slog.Logger
	// secondUnit scales TimeoutPolicy seconds; tests shrink it.
	secondUnit time.Duration

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex

	mu         sync.Mutex
	sess       Session
	agent      agent.Config
	ctx        context.Context
	cancel     context.CancelFunc
	ch         Channel
	proc       TurnProcessor
	queue      chan string
	fixedTimer *time.Timer
	idleTimer  *time.Timer

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewController(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:        deps,
		queueSize:   4,
		turnTimeout: 45 * time.Second,
		metrics:     observability.NewMetrics("voxline"),
		log:         observability.Logger(),
		secondUnit:  time.Second,
		sess:        Session{State: StateIdle},
		subs:        make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "session")
	return c
}

// Start begins a call for cfg. A capture failure is returned (wrapping
// capture.ErrDeviceUnavailable) and leaves the controller idle without
// dialing the channel. A channel failure is only logged and published; the
// call stays in starting until the user stops it.
func (c *Controller) Start(ctx context.Context, cfg agent.Config) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return Session{}, err
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.sess.State != StateIdle {
		c.mu.Unlock()
		return Session{}, ErrAlreadyRunning
	}
	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.sess = Session{
		ID:              id,
		AgentID:         cfg.ID,
		State:           StateStarting,
		StartedAt:       time.Now().UTC(),
		UserStartsFirst: cfg.UserStartsFirst,
		Timeout:         cfg.Timeout,
	}
	c.agent = cfg
	c.ctx, c.cancel = sessCtx, cancel
	c.proc = c.deps.Processors(cfg)
	c.queue = make(chan string, c.queueSize)
	c.mu.Unlock()

	log := c.log.With("session_id", id, "agent_id", cfg.ID)
	c.metrics.SessionEvents.WithLabelValues("start").Inc()
	c.publish(Event{Type: EventState, SessionID: id, State: StateStarting})

	if err := c.deps.Capture.Start(sessCtx, frameSink{c: c, id: id}); err != nil {
		log.Error("capture unavailable, call not started", "error", err)
		c.metrics.SessionEvents.WithLabelValues("start_failed").Inc()
		cancel()
		c.mu.Lock()
		c.sess.State = StateIdle
		c.ctx, c.cancel, c.proc, c.queue = nil, nil, nil, nil
		snap := c.sess
		c.mu.Unlock()
		c.publish(Event{Type: EventError, SessionID: id, Error: err.Error()})
		c.publish(Event{Type: EventState, SessionID: id, State: StateIdle})
		return snap, err
	}

	c.deps.Speaker.SetVoice(cfg.VoiceID)
	ch := c.deps.Channels(func() bool { return c.isActive(id) }, channel.Handlers{
		OnOpen:         func() { c.onChannelOpen(id) },
		OnTranscript:   func(text string) { c.onTranscript(id, text) },
		OnAudio:        func(b64 string) { c.onAudio(id, b64) },
		OnConnectError: func(err error) { c.onConnectError(id, err) },
		OnFatal: func(err error) {
			log.Error("channel lost for good, ending call", "error", err)
			go c.stop(id, "channel_fatal")
		},
	})

	c.mu.Lock()
	c.ch = ch
	c.armTimersLocked(id, cfg.Timeout)
	queue, proc := c.queue, c.proc
	c.mu.Unlock()

	go c.worker(sessCtx, id, queue, proc)

	target, err := channel.BuildURL(c.deps.ChannelURL, channel.Params{
		VoiceID:  cfg.VoiceID,
		AgentID:  cfg.ID,
		Identity: cfg.Identity,
	})
	if err == nil {
		err = ch.Connect(sessCtx, target)
	}
	if err != nil {
		log.Error("channel connect failed; stop and start again to retry", "error", err)
		c.publish(Event{Type: EventError, SessionID: id, Error: err.Error()})
	}

	log.Info("call starting")
	return c.Snapshot(), nil
}

// Stop ends the current call. Safe from any state and from concurrent
// callers; only the first call while starting or active does any work.
func (c *Controller) Stop() {
	c.stop("", "user")
}

// stop ends the call identified by id, or the current call when id is empty.
func (c *Controller) stop(id, reason string) bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	state := c.sess.State
	if state != StateStarting && state != StateActive {
		c.mu.Unlock()
		return false
	}
	if id != "" && c.sess.ID != id {
		c.mu.Unlock()
		return false
	}
	id = c.sess.ID
	c.sess.State = StateEnding
	ch, proc, cancel := c.ch, c.proc, c.cancel
	fixed, idle := c.fixedTimer, c.idleTimer
	c.ch, c.fixedTimer, c.idleTimer = nil, nil, nil
	c.mu.Unlock()

	c.publish(Event{Type: EventState, SessionID: id, State: StateEnding})

	if fixed != nil {
		fixed.Stop()
	}
	if idle != nil {
		idle.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	c.deps.Speaker.Reset()
	c.deps.Capture.Stop()
	if proc != nil {
		proc.Reset()
	}

	c.mu.Lock()
	c.sess.GreetingSent = false
	c.sess.State = StateIdle
	c.ctx, c.cancel, c.queue = nil, nil, nil
	c.mu.Unlock()

	c.metrics.SessionState.Set(0)
	c.metrics.SessionEvents.WithLabelValues("stop_" + reason).Inc()
	c.publish(Event{Type: EventState, SessionID: id, State: StateIdle})
	c.log.Info("call ended", "session_id", id, "reason", reason)
	return true
}

// Snapshot returns a copy of the current or last session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State
}

// History returns the turns of the current call; empty once it ended.
func (c *Controller) History() []conversation.Turn {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.History()
}

// Subscribe registers a listener. Events are dropped for a subscriber whose
// buffer is full. cancel unregisters and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Controller) isActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ID == id && c.sess.State == StateActive
}

// current returns the session context and channel if id is still the
// running call.
func (c *Controller) current(id string) (context.Context, Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.ID != id || (c.sess.State != StateStarting && c.sess.State != StateActive) {
		return nil, nil, false
	}
	return c.ctx, c.ch, true
}

func (c *Controller) onChannelOpen(id string) {
	c.mu.Lock()
	if c.sess.ID != id || (c.sess.State != StateStarting && c.sess.State != StateActive) {
		c.mu.Unlock()
		return
	}
	promoted := c.sess.State == StateStarting
	c.sess.State = StateActive
	greet := !c.sess.UserStartsFirst && !c.sess.GreetingSent
	if greet {
		// Set before speaking so a reconnect racing this open cannot greet twice.
		c.sess.GreetingSent = true
	}
	ctx, cfg := c.ctx, c.agent
	c.mu.Unlock()

	if promoted {
		c.metrics.SessionState.Set(1)
		c.metrics.SessionEvents.WithLabelValues("active").Inc()
		c.publish(Event{Type: EventState, SessionID: id, State: StateActive})
	}
	if greet {
		text := cfg.GreetingText()
		c.metrics.SessionEvents.WithLabelValues("greeting").Inc()
		c.publish(Event{Type: EventReply, SessionID: id, Text: text})
		c.record(id, cfg.ID, conversation.RoleAgent, text)
		c.deps.Speaker.Speak(ctx, text)
	}
}

func (c *Controller) onTranscript(id, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	if c.sess.ID != id || c.sess.State != StateActive {
		c.mu.Unlock()
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.scaled(c.sess.Timeout.NoActivity()))
	}
	queued := true
	select {
	case c.queue <- text:
	default:
		queued = false
	}
	c.mu.Unlock()

	c.publish(Event{Type: EventTranscript, SessionID: id, Text: text})
	if !queued {
		c.metrics.SessionEvents.WithLabelValues("transcript_dropped").Inc()
		c.log.Warn("turn queue full, transcript dropped", "session_id", id)
	}
}

func (c *Controller) onAudio(id, b64 string) {
	c.mu.Lock()
	if c.sess.ID != id || c.sess.State != StateActive {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()
	c.deps.Speaker.PlayAudio(ctx, b64)
}

func (c *Controller) onConnectError(id string, err error) {
	if _, _, ok := c.current(id); !ok {
		return
	}
	c.metrics.SessionEvents.WithLabelValues("connect_failed").Inc()
	c.publish(Event{Type: EventError, SessionID: id, Error: err.Error()})
}

// worker is the only caller of ProcessTurn for a call.
func (c *Controller) worker(ctx context.Context, id string, queue <-chan string, proc TurnProcessor) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-queue:
			c.runTurn(ctx, id, proc, text)
		}
	}
}

func (c *Controller) runTurn(ctx context.Context, id string, proc TurnProcessor, text string) {
	if !c.isActive(id) {
		return
	}
	c.mu.Lock()
	agentID := c.agent.ID
	c.mu.Unlock()
	c.record(id, agentID, conversation.RoleUser, text)

	// The model call is not cancelled by Stop; a late reply is dropped below.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.turnTimeout)
	reply, err := proc.ProcessTurn(turnCtx, text)
	cancel()
	if err != nil {
		c.log.Error("turn failed", "session_id", id, "error", err)
		c.publish(Event{Type: EventError, SessionID: id, Error: err.Error()})
		reply = conversation.ApologyMessage
	}

	if !c.isActive(id) {
		c.metrics.SessionEvents.WithLabelValues("late_reply").Inc()
		c.log.Info("reply discarded, call no longer active", "session_id", id)
		return
	}
	c.publish(Event{Type: EventReply, SessionID: id, Text: reply})
	c.record(id, agentID, conversation.RoleAgent, reply)
	c.deps.Speaker.Speak(ctx, reply)
}

func (c *Controller) armTimersLocked(id string, policy agent.TimeoutPolicy) {
	if policy.FixedDuration() > 0 {
		c.fixedTimer = time.AfterFunc(c.scaled(policy.FixedDuration()), func() {
			c.onTimeout(id, TimeoutFixedDuration)
		})
	}
	if policy.NoActivity() > 0 {
		c.idleTimer = time.AfterFunc(c.scaled(policy.NoActivity()), func() {
			c.onTimeout(id, TimeoutNoActivity)
		})
	}
}

// onTimeout only notifies; ending the call is left to the user.
func (c *Controller) onTimeout(id, kind string) {
	c.mu.Lock()
	if c.sess.ID != id || (c.sess.State != StateStarting && c.sess.State != StateActive) {
		c.mu.Unlock()
		return
	}
	active := c.sess.State == StateActive
	endMessage := strings.TrimSpace(c.sess.Timeout.EndMessage)
	ctx := c.ctx
	c.mu.Unlock()

	c.metrics.SessionEvents.WithLabelValues("timeout_" + kind).Inc()
	c.log.Info("call timeout reached", "session_id", id, "timeout", kind)
	c.publish(Event{Type: EventTimeout, SessionID: id, Timeout: kind})
	if active && endMessage != "" {
		c.deps.Speaker.Speak(ctx, endMessage)
	}
}

// scaled maps a whole-second policy duration onto secondUnit.
func (c *Controller) scaled(d time.Duration) time.Duration {
	return d / time.Second * c.secondUnit
}

// record appends to the transcript log. Failures never affect the call.
func (c *Controller) record(sessionID, agentID string, role conversation.Role, text string) {
	if c.transcripts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r := transcript.Redact(transcript.Record{
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      string(role),
		Content:   text,
	})
	if err := c.transcripts.Append(ctx, r); err != nil {
		c.log.Warn("transcript append failed", "session_id", sessionID, "error", err)
	}
}

// frameSink forwards capture frames while the call's channel is open.
type frameSink struct {
	c  *Controller
	id string
}

func (s frameSink) Ready() bool {
	_, ch, ok := s.c.current(s.id)
	return ok && ch != nil && ch.IsOpen()
}

func (s frameSink) Forward(f capture.Frame) {
	if _, ch, ok := s.c.current(s.id); ok && ch != nil {
		ch.Send(protocol.NewAudio(f.Data))
	}
}
