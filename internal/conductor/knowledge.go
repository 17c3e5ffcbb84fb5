package conductor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coreclaw/coreclaw/internal/config"
)

// KnowledgeSnippet is one piece of retrieved context merged into a
// task's context bundle by the Context conductor.
type KnowledgeSnippet struct {
	Source  string
	Title   string
	Content string
}

// KnowledgeSource is a read-only, queryable knowledge backend the
// Context conductor consults while assembling context for a task. A
// failing source is logged and skipped; it never fails the conductor.
type KnowledgeSource interface {
	Name() string
	Query(ctx context.Context, query string) ([]KnowledgeSnippet, error)
}

// httpKnowledgeSource queries a JSON HTTP endpoint that returns a flat
// array of {title, content} snippets.
type httpKnowledgeSource struct {
	name     string
	client   *resty.Client
	endpoint string
}

type httpSnippet struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewHTTPKnowledgeSource builds a KnowledgeSource from a registration
// record loaded from config.yaml.
func NewHTTPKnowledgeSource(c config.KnowledgeSourceConfig) KnowledgeSource {
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	return &httpKnowledgeSource{name: c.Name, client: client, endpoint: c.Endpoint}
}

func (s *httpKnowledgeSource) Name() string { return s.name }

func (s *httpKnowledgeSource) Query(ctx context.Context, query string) ([]KnowledgeSnippet, error) {
	var raw []httpSnippet
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&raw).
		Get(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("knowledge source %s: %w", s.name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("knowledge source %s: http %d", s.name, resp.StatusCode())
	}
	out := make([]KnowledgeSnippet, len(raw))
	for i, r := range raw {
		out[i] = KnowledgeSnippet{Source: s.name, Title: r.Title, Content: r.Content}
	}
	return out, nil
}

// BuildKnowledgeSources constructs one KnowledgeSource per registered
// config entry. Unknown Type values still build an HTTP source —
// httpKnowledgeSource is the only client this system ships.
func BuildKnowledgeSources(configs []config.KnowledgeSourceConfig) []KnowledgeSource {
	sources := make([]KnowledgeSource, 0, len(configs))
	for _, c := range configs {
		sources = append(sources, NewHTTPKnowledgeSource(c))
	}
	return sources
}
