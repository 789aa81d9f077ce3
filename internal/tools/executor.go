package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/voxline/internal/observability"
	"github.com/antoniostano/voxline/internal/policy"
	"github.com/antoniostano/voxline/internal/reliability"
)

// SheetAppender appends one row to a spreadsheet.
type SheetAppender interface {
	AppendRow(ctx context.Context, sheetID string, row []any) error
}

// Executor runs tool invocations. Execute reports success as a bool; the
// cause of a failure is logged, not returned, since the caller only picks
// between a success and a retry message.
type Executor struct {
	client  *http.Client
	sheets  SheetAppender
	timeout time.Duration
	metrics *observability.Metrics
	log     *slog.Logger
}

type ExecutorOption func(*Executor)

func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func NewExecutor(sheets SheetAppender, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:  &http.Client{},
		sheets:  sheets,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics("voxline")
	}
	if e.log == nil {
		e.log = observability.Logger()
	}
	e.log = e.log.With("component", "tools")
	return e
}

// Execute runs def with data. Required parameters are not enforced here;
// the prompt asks the model to collect them first.
func (e *Executor) Execute(ctx context.Context, def Definition, data map[string]any) bool {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var err error
	switch def.Kind {
	case KindWebhook:
		err = e.callWebhook(ctx, def, data)
	case KindSheet:
		err = e.appendSheet(ctx, def, data)
	case KindForm:
		err = nil
	default:
		err = fmt.Errorf("%w %q", ErrUnknownKind, def.Kind)
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	e.metrics.ToolCalls.WithLabelValues(string(def.Kind), result).Inc()
	e.metrics.ObserveStage(observability.StageToolCall, time.Since(started))

	_, safe := policy.RedactFields(data)
	if err != nil {
		e.log.Warn("tool call failed", "tool", def.Name, "kind", def.Kind, "data", safe, "error", err)
		return false
	}
	e.log.Info("tool call succeeded", "tool", def.Name, "kind", def.Kind, "data", safe,
		"duration_ms", time.Since(started).Milliseconds())
	return true
}

func (e *Executor) callWebhook(ctx context.Context, def Definition, data map[string]any) error {
	if def.Webhook == nil || strings.TrimSpace(def.Webhook.URL) == "" {
		return fmt.Errorf("tool %q has no webhook url", def.Name)
	}
	method := strings.ToUpper(strings.TrimSpace(def.Webhook.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if methodHasBody(method) {
		payload := data
		if payload == nil {
			payload = map[string]any{}
		}
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode webhook body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet || method == http.MethodHead {
		attempts = 2
	}
	retry := reliability.Policy{Attempts: attempts, Base: 200 * time.Millisecond, Cap: time.Second}
	return reliability.Retry(ctx, retry, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, def.Webhook.URL, reader)
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range def.Webhook.Headers {
			req.Header.Set(k, v)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &reliability.StatusError{Op: "webhook " + def.Name, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

func (e *Executor) appendSheet(ctx context.Context, def Definition, data map[string]any) error {
	if e.sheets == nil {
		return fmt.Errorf("tool %q: no sheet appender configured", def.Name)
	}
	if def.Sheet == nil {
		return fmt.Errorf("tool %q has no sheet url", def.Name)
	}
	id, err := SheetID(def.Sheet.URL)
	if err != nil {
		return err
	}
	return e.sheets.AppendRow(ctx, id, RowValues(def.Parameters, data))
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
