// Package tools describes the actions an agent may trigger mid-call and
// executes them.
package tools

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind selects the transport that executes a tool.
type Kind string

const (
	KindWebhook Kind = "webhook"
	KindSheet   Kind = "sheet"
	// KindForm is rendered by the caller's UI; nothing runs server-side.
	KindForm Kind = "form"
)

var ErrUnknownKind = errors.New("unknown tool kind")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWebhook, KindSheet, KindForm:
		return k, nil
	case "google_sheet", "spreadsheet":
		return KindSheet, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Parameter is one field the model has to collect before calling the tool.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

type Webhook struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type Sheet struct {
	URL string `json:"url" yaml:"url"`
}

// Definition is a tool as configured on an agent.
type Definition struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind        `json:"type" yaml:"type"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Webhook     *Webhook    `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Sheet       *Sheet      `json:"sheet,omitempty" yaml:"sheet,omitempty"`
}

// Validate checks that the transport matching Kind is configured.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("tool name is required")
	}
	switch d.Kind {
	case KindWebhook:
		if d.Webhook == nil || strings.TrimSpace(d.Webhook.URL) == "" {
			return fmt.Errorf("tool %q: webhook url is required", d.Name)
		}
	case KindSheet:
		if d.Sheet == nil || strings.TrimSpace(d.Sheet.URL) == "" {
			return fmt.Errorf("tool %q: sheet url is required", d.Name)
		}
		if _, err := SheetID(d.Sheet.URL); err != nil {
			return fmt.Errorf("tool %q: %w", d.Name, err)
		}
	case KindForm:
	default:
		return fmt.Errorf("tool %q: %w %q", d.Name, ErrUnknownKind, d.Kind)
	}
	return nil
}

// RequiredParameters lists the names the model must collect.
func (d Definition) RequiredParameters() []string {
	var out []string
	for _, p := range d.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Missing lists required parameters absent or blank in data.
func (d Definition) Missing(data map[string]any) []string {
	var out []string
	for _, name := range d.RequiredParameters() {
		v, ok := data[name]
		if s, isString := v.(string); !ok || v == nil || (isString && strings.TrimSpace(s) == "") {
			out = append(out, name)
		}
	}
	return out
}

// Invocation is the JSON object a model emits to call a tool.
type Invocation struct {
	Tool string         `json:"tool"`
	Data map[string]any `json:"data"`
}

// Lookup finds a tool by name, ignoring case and surrounding space.
func Lookup(defs []Definition, name string) (Definition, bool) {
	name = strings.TrimSpace(name)
	for _, d := range defs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Definition{}, false
}

var sheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SheetID extracts the spreadsheet id from a sharing URL. A bare id is
// accepted as is.
func SheetID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if m := sheetIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if raw != "" && !strings.ContainsAny(raw, "/?#") {
		return raw, nil
	}
	return "", fmt.Errorf("no spreadsheet id in %q", raw)
}

// RowValues orders data for a sheet row: declared parameters first, then
// any extra keys sorted by name. Missing parameters become empty cells.
func RowValues(params []Parameter, data map[string]any) []any {
	row := make([]any, 0, len(data))
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		seen[p.Name] = true
		row = append(row, cell(data[p.Name]))
	}
	extra := make([]string, 0, len(data))
	for k := range data {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		row = append(row, cell(data[k]))
	}
	return row
}

func cell(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, float64, int, int64:
		return t
	default:
		return fmt.Sprint(t)
	}
}
