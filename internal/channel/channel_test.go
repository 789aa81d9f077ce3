package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/protocol"
)

// backend is a scripted duplex peer. Accepted sockets are queued on conns;
// refuse makes the handler reject upgrades.
type backend struct {
	srv      *httptest.Server
	accepted atomic.Int32
	refuse   atomic.Bool
	conns    chan *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.accepted.Add(1)
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *backend) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestChannel(active func() bool, h Handlers) *Channel {
	return New(Config{
		HeartbeatInterval: time.Hour,
		ReconnectDelay:    10 * time.Millisecond,
	}, active, h, WithLogger(observability.Discard()), WithMetrics(observability.NewMetrics("test")))
}

func always() bool { return true }

func TestSendBeforeOpenIsDropped(t *testing.T) {
	ch := newTestChannel(always, Handlers{})
	if ch.Send(protocol.NewAudio("AAAA")) {
		t.Fatalf("Send() before connect = true, want false")
	}
	if ch.IsOpen() {
		t.Fatalf("IsOpen() = true before connect")
	}
}

func TestConnectOpensAndDeliversFrames(t *testing.T) {
	b := newBackend(t)
	opened := make(chan struct{}, 1)
	transcripts := make(chan string, 1)
	audioFrames := make(chan string, 1)
	ch := newTestChannel(always, Handlers{
		OnOpen:       func() { opened <- struct{}{} },
		OnTranscript: func(text string) { transcripts <- text },
		OnAudio:      func(b64 string) { audioFrames <- b64 },
	})
	defer ch.Close()

	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnOpen not called")
	}

	if !ch.Send(protocol.NewAudio("AQID")) {
		t.Fatalf("Send() = false on open channel")
	}
	env := readEnvelope(t, server)
	if env.Event != protocol.EventAudio || !strings.Contains(string(env.Payload), `"data":"AQID"`) {
		t.Fatalf("server got %s %s", env.Event, env.Payload)
	}

	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"transcript","payload":{"text":"hi there"}}`))
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","payload":{"message":"ignored"}}`))
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"audio","payload":{"audio":"UklGRg=="}}`))

	select {
	case got := <-transcripts:
		if got != "hi there" {
			t.Fatalf("transcript = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcript not delivered")
	}
	select {
	case got := <-audioFrames:
		if got != "UklGRg==" {
			t.Fatalf("audio = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("audio not delivered")
	}
}

func TestPingIsAnsweredAndPongIsNot(t *testing.T) {
	b := newBackend(t)
	ch := newTestChannel(always, Handlers{})
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	waitFor(t, "open", ch.IsOpen)

	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"pong","payload":{}}`))
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","payload":{}}`))

	// The first frame back must be the pong for our ping, not an echo of the pong.
	env := readEnvelope(t, server)
	if env.Event != protocol.EventPong {
		t.Fatalf("reply event = %q, want pong", env.Event)
	}
	waitFor(t, "pong recorded", func() bool { return !ch.LastPong().IsZero() })

	_ = server.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := server.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra frame from client")
	}
}

func TestHeartbeatSendsPing(t *testing.T) {
	b := newBackend(t)
	ch := New(Config{HeartbeatInterval: 20 * time.Millisecond}, always, Handlers{},
		WithLogger(observability.Discard()))
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	env := readEnvelope(t, server)
	if env.Event != protocol.EventPing || string(env.Payload) != "{}" {
		t.Fatalf("heartbeat = %s %s", env.Event, env.Payload)
	}
}

func TestDropWhileActiveReconnectsOnce(t *testing.T) {
	b := newBackend(t)
	var opens atomic.Int32
	ch := newTestChannel(always, Handlers{OnOpen: func() { opens.Add(1) }})
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := b.next(t)
	waitFor(t, "first open", func() bool { return opens.Load() == 1 })

	_ = first.Close()
	b.next(t)
	waitFor(t, "reconnect", func() bool { return opens.Load() == 2 && ch.IsOpen() })
	if got := b.accepted.Load(); got != 2 {
		t.Fatalf("accepted = %d, want 2", got)
	}
}

func TestDropAfterSessionEndedDoesNotReconnect(t *testing.T) {
	b := newBackend(t)
	var active atomic.Bool
	active.Store(true)
	ch := newTestChannel(active.Load, Handlers{})
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	waitFor(t, "open", ch.IsOpen)

	active.Store(false)
	_ = server.Close()
	waitFor(t, "drop", func() bool { return !ch.IsOpen() })
	time.Sleep(50 * time.Millisecond)
	if got := b.accepted.Load(); got != 1 {
		t.Fatalf("accepted = %d, want 1", got)
	}
}

func TestFailedReconnectIsFatal(t *testing.T) {
	b := newBackend(t)
	fatal := make(chan error, 1)
	ch := newTestChannel(always, Handlers{OnFatal: func(err error) { fatal <- err }})
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	waitFor(t, "open", ch.IsOpen)

	b.refuse.Store(true)
	_ = server.Close()
	select {
	case err := <-fatal:
		if err == nil {
			t.Fatalf("OnFatal(nil)")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnFatal not called")
	}
}

func TestInitialConnectFailureIsReported(t *testing.T) {
	b := newBackend(t)
	b.refuse.Store(true)
	failed := make(chan error, 1)
	ch := newTestChannel(always, Handlers{OnConnectError: func(err error) { failed <- err }})
	defer ch.Close()
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnConnectError not called")
	}
	if ch.IsOpen() {
		t.Fatalf("IsOpen() = true after failed connect")
	}
}

func TestCloseIsIdempotentAndClearsHandlers(t *testing.T) {
	b := newBackend(t)
	var mu sync.Mutex
	var transcripts []string
	ch := newTestChannel(always, Handlers{OnTranscript: func(text string) {
		mu.Lock()
		transcripts = append(transcripts, text)
		mu.Unlock()
	}})
	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := b.next(t)
	waitFor(t, "open", ch.IsOpen)

	ch.Close()
	ch.Close()
	if ch.IsOpen() {
		t.Fatalf("IsOpen() = true after Close")
	}
	if ch.Send(protocol.NewPing()) {
		t.Fatalf("Send() after Close = true")
	}
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"event":"transcript","payload":{"text":"late"}}`))
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 0 {
		t.Fatalf("transcripts after close = %v", transcripts)
	}
	if b.accepted.Load() != 1 {
		t.Fatalf("Close triggered a reconnect")
	}
	if err := ch.Connect(context.Background(), b.url()); err == nil {
		t.Fatalf("Connect() after Close error = nil")
	}
}

func TestBuildURL(t *testing.T) {
	got, err := BuildURL("https://voice.example.com/ws?region=eu", Params{
		VoiceID:  "v1",
		AgentID:  "a 1",
		Identity: "You are Ada & friendly",
	})
	if err != nil {
		t.Fatalf("BuildURL() error = %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if u.Scheme != "wss" {
		t.Fatalf("scheme = %q, want wss", u.Scheme)
	}
	q := u.Query()
	if q.Get("region") != "eu" || q.Get("voice_id") != "v1" || q.Get("agent_id") != "a 1" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("identity") != "You are Ada & friendly" {
		t.Fatalf("identity = %q", q.Get("identity"))
	}

	if _, err := BuildURL("ftp://nope", Params{}); err == nil {
		t.Fatalf("BuildURL(ftp) error = nil")
	}
}

func TestConnectRequiresURL(t *testing.T) {
	ch := newTestChannel(always, Handlers{})
	if err := ch.Connect(context.Background(), " "); err == nil {
		t.Fatalf("Connect(blank) error = nil")
	}
}

func TestDropRightAfterHandshakeReconnects(t *testing.T) {
	b := newBackend(t)
	var active atomic.Bool
	var opens atomic.Int32
	ch := newTestChannel(active.Load, Handlers{
		OnOpen: func() {
			// The session becomes active only once the open callback has run.
			time.Sleep(20 * time.Millisecond)
			active.Store(true)
			opens.Add(1)
		},
	})
	defer ch.Close()

	if err := ch.Connect(context.Background(), b.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := b.next(t)
	_ = first.Close()

	waitFor(t, "reconnect after early drop", func() bool { return b.accepted.Load() >= 2 })
	b.next(t)
	waitFor(t, "channel reopened", func() bool { return ch.IsOpen() && opens.Load() >= 2 })
}
