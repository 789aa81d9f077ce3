package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/voxline/internal/agent"
	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/reliability"
)

type fakeBackend struct {
	auth     atomic.Value
	rows     chan []any
	docHits  atomic.Int32
	failOnce atomic.Bool
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{rows: make(chan []any, 1)}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fb.auth.Store(r.Header.Get("Authorization"))
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "concierge" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"concierge","identity":"Be helpful.","user_starts_first":true,
			"tools":[{"name":"contact","type":"form"}]}`))
	})
	r.Get("/documents/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		fb.docHits.Add(1)
		if fb.failOnce.CompareAndSwap(true, false) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if chi.URLParam(r, "id") != "menu" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"content":"Pasta 12"}`))
	})
	r.Post("/sheets/{id}/rows", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Values []any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		fb.rows <- body.Values
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fb, srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, "secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.retry = reliability.Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}
	return c
}

func TestGetAgent(t *testing.T) {
	fb, srv := newFakeBackend(t)
	c := newTestClient(t, srv.URL+"/")

	cfg, err := c.GetAgent(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if !cfg.UserStartsFirst || cfg.Identity != "Be helpful." || len(cfg.Tools) != 1 {
		t.Fatalf("cfg = %#v", cfg)
	}
	if got, _ := fb.auth.Load().(string); got != "Bearer secret" {
		t.Fatalf("Authorization = %q", got)
	}

	if _, err := c.GetAgent(context.Background(), "ghost"); !errors.Is(err, agent.ErrNotFound) {
		t.Fatalf("GetAgent(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestDocumentContentRetriesAndMapsNotFound(t *testing.T) {
	fb, srv := newFakeBackend(t)
	c := newTestClient(t, srv.URL)

	fb.failOnce.Store(true)
	content, err := c.DocumentContent(context.Background(), "menu")
	if err != nil || content != "Pasta 12" {
		t.Fatalf("DocumentContent() = %q, %v", content, err)
	}
	if fb.docHits.Load() != 2 {
		t.Fatalf("document hits = %d, want 2", fb.docHits.Load())
	}
	if _, err := c.DocumentContent(context.Background(), "nope"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("DocumentContent(nope) error = %v, want ErrNotFound", err)
	}
}

func TestAppendRow(t *testing.T) {
	fb, srv := newFakeBackend(t)
	c := newTestClient(t, srv.URL)
	if err := c.AppendRow(context.Background(), "abc123", []any{"Ada", 2}); err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	row := <-fb.rows
	if len(row) != 2 || row[0] != "Ada" || row[1] != 2.0 {
		t.Fatalf("row = %#v", row)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New("  ", ""); err == nil {
		t.Fatalf("New(blank) error = nil")
	}
}
