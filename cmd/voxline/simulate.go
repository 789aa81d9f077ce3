package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/protocol"
)

var (
	simAddr     string
	simLines    []string
	simInterval time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-backend",
	Short: "Run a scripted speech backend for local calls",
	Long: `simulate-backend listens on /ws/voice, answers heartbeats, counts incoming
audio frames and, once audio starts flowing, sends each --say line as a
transcript. Point VOXLINE_CHANNEL_URL at it to run calls without a real
speech recognizer.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simAddr, "addr", "127.0.0.1:8765", "listen address")
	simulateCmd.Flags().StringArrayVar(&simLines, "say", []string{"Hi, I'd like to book a table for two."}, "caller utterance (repeatable)")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 4*time.Second, "pause between utterances")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(_ *cobra.Command, _ []string) error {
	log := observability.Logger().With("component", "simulator")
	mux := http.NewServeMux()
	mux.Handle("/ws/voice", newSimulator(simLines, simInterval))
	srv := &http.Server{Addr: simAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("simulated backend listening", "addr", simAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case err := <-serveErr:
		return err
	}
	return srv.Close()
}

// simulator is a minimal speech backend: one scripted conversation per
// connection.
type simulator struct {
	lines    []string
	interval time.Duration
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func newSimulator(lines []string, interval time.Duration) *simulator {
	return &simulator{
		lines:    lines,
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      observability.Logger().With("component", "simulator"),
	}
}

func (s *simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	q := r.URL.Query()
	s.log.Info("engine connected", "agent_id", q.Get("agent_id"), "voice_id", q.Get("voice_id"))

	var writeMu sync.Mutex
	write := func(msg protocol.Outbound) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(msg)
	}

	done := make(chan struct{})
	defer close(done)
	audioStarted := make(chan struct{})
	var startOnce sync.Once

	go func() {
		select {
		case <-audioStarted:
		case <-done:
			return
		}
		for _, line := range s.lines {
			select {
			case <-done:
				return
			case <-time.After(s.interval):
			}
			msg := protocol.Outbound{Event: protocol.EventTranscript, Payload: protocol.Transcript{Text: line}}
			if err := write(msg); err != nil {
				return
			}
			s.log.Info("transcript sent", "text", line)
		}
	}()

	frames := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("engine disconnected", "audio_frames", frames)
			return
		}
		msg, err := protocol.ParseClientMessage(raw)
		if err != nil {
			continue
		}
		switch msg.(type) {
		case protocol.Ping:
			if err := write(protocol.NewPong()); err != nil {
				return
			}
		case protocol.ClientAudio:
			frames++
			startOnce.Do(func() { close(audioStarted) })
		}
	}
}
