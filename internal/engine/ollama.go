package engine

import (
	"context"

	"github.com/kalambet/interviewd/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
	model  string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL), model: model}
}

func (e *OllamaEngine) Chat(ctx context.Context, req Request) (string, error) {
	msgs := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var s *ollama.Schema
	if req.Schema != nil {
		s = &ollama.Schema{
			Type:     req.Schema.Type,
			Required: req.Schema.Required,
		}
		if req.Schema.Properties != nil {
			s.Properties = make(map[string]ollama.SchemaProperty, len(req.Schema.Properties))
			for k, v := range req.Schema.Properties {
				s.Properties[k] = ollama.SchemaProperty{Type: v.Type, Description: v.Description}
			}
		}
	}

	model := req.Model
	if model == "" {
		model = e.model
	}
	return e.client.Chat(ctx, model, msgs, s, ollama.Options{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) Backend() string { return "ollama" }

func (e *OllamaEngine) Model() string { return e.model }

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
