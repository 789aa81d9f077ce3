// Package backend talks to the REST service that owns agents, knowledge
// documents and sheet integrations.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/voxline/internal/agent"
	"github.com/antoniostano/voxline/internal/knowledge"
	"github.com/antoniostano/voxline/internal/reliability"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   reliability.Policy
}

func New(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   reliability.DefaultPolicy,
	}, nil
}

// GetAgent fetches an agent definition by id.
func (c *Client) GetAgent(ctx context.Context, id string) (agent.Config, error) {
	var cfg agent.Config
	status, err := c.getJSON(ctx, "/agents/"+url.PathEscape(id), &cfg)
	if status == http.StatusNotFound {
		return agent.Config{}, fmt.Errorf("%w: %s", agent.ErrNotFound, id)
	}
	if err != nil {
		return agent.Config{}, err
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if err := cfg.Validate(); err != nil {
		return agent.Config{}, err
	}
	return cfg, nil
}

// DocumentContent implements knowledge.Source.
func (c *Client) DocumentContent(ctx context.Context, id string) (string, error) {
	var doc struct {
		Content string `json:"content"`
	}
	status, err := c.getJSON(ctx, "/documents/"+url.PathEscape(id)+"/content", &doc)
	if status == http.StatusNotFound {
		return "", knowledge.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// AppendRow implements tools.SheetAppender through the backend's sheet
// integration, which holds the spreadsheet credentials.
func (c *Client) AppendRow(ctx context.Context, sheetID string, row []any) error {
	payload, err := json.Marshal(map[string]any{"values": row})
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	// Appends are not idempotent; a single attempt only.
	_, err = c.do(ctx, http.MethodPost, "/sheets/"+url.PathEscape(sheetID)+"/rows", payload, nil)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	var status int
	err := reliability.Retry(ctx, c.retry, func(ctx context.Context) error {
		var callErr error
		status, callErr = c.do(ctx, http.MethodGet, path, nil, out)
		return callErr
	})
	return status, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return res.StatusCode, &reliability.StatusError{
			Op:     method + " " + path,
			Status: res.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return res.StatusCode, nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return res.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return res.StatusCode, nil
}
