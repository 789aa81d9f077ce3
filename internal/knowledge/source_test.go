package knowledge

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/antoniostano/voxline/internal/observability"
)

func TestLoadSkipsMissingAndEmptyDocuments(t *testing.T) {
	src := NewInMemorySource(map[string]string{
		"menu":  "Pasta 12, Pizza 10",
		"blank": "   ",
		"hours": "Open 9 to 5",
	})
	docs := Load(context.Background(), src, []string{"menu", "missing", "blank", " ", "hours"}, observability.Discard())
	if len(docs) != 2 || docs[0].ID != "menu" || docs[1].ID != "hours" {
		t.Fatalf("Load() = %#v", docs)
	}
}

func TestLoadWithoutSource(t *testing.T) {
	if docs := Load(context.Background(), nil, []string{"a"}, nil); docs != nil {
		t.Fatalf("Load(nil source) = %#v", docs)
	}
}

func TestInMemorySourceNotFound(t *testing.T) {
	src := NewInMemorySource(nil)
	if _, err := src.DocumentContent(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	src.Put("x", "content")
	if got, err := src.DocumentContent(context.Background(), "x"); err != nil || got != "content" {
		t.Fatalf("DocumentContent() = %q, %v", got, err)
	}
}

func TestChainFallsThroughMisses(t *testing.T) {
	ctx := context.Background()
	inline := NewInMemorySource(map[string]string{"menu": "pizza"})
	remote := NewInMemorySource(map[string]string{"menu": "stale", "hours": "9-5"})
	chain := Chain{nil, inline, remote}

	if got, err := chain.DocumentContent(ctx, "menu"); err != nil || got != "pizza" {
		t.Fatalf("menu = %q, %v", got, err)
	}
	if got, err := chain.DocumentContent(ctx, "hours"); err != nil || got != "9-5" {
		t.Fatalf("hours = %q, %v", got, err)
	}
	if _, err := chain.DocumentContent(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent error = %v, want ErrNotFound", err)
	}
}

type brokenSource struct{}

func (brokenSource) DocumentContent(context.Context, string) (string, error) {
	return "", errors.New("backend down")
}

func TestChainStopsOnHardError(t *testing.T) {
	chain := Chain{brokenSource{}, NewInMemorySource(map[string]string{"menu": "pizza"})}
	if _, err := chain.DocumentContent(context.Background(), "menu"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want backend failure", err)
	}
}

func TestPostgresSourceRoundTrip(t *testing.T) {
	dsn := os.Getenv("VOXLINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VOXLINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	src, err := NewPostgresSource(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresSource() error = %v", err)
	}
	defer src.Close()

	if err := src.Put(ctx, "test-doc", "hello"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got, err := src.DocumentContent(ctx, "test-doc"); err != nil || got != "hello" {
		t.Fatalf("DocumentContent() = %q, %v", got, err)
	}
	if _, err := src.DocumentContent(ctx, "absent-doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
