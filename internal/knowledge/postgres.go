package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads documents from the knowledge_documents table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init knowledge schema: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) DocumentContent(ctx context.Context, id string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM knowledge_documents WHERE id=$1`, id).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query document %s: %w", id, err)
	}
	return content, nil
}

// Put upserts a document.
func (s *PostgresSource) Put(ctx context.Context, id, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_documents (id, content) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`,
		id, content)
	if err != nil {
		return fmt.Errorf("put document %s: %w", id, err)
	}
	return nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
