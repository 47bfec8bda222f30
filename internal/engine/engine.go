package engine

import "context"

// Engine abstracts an inference backend (Ollama or any OpenAI-compatible
// server such as LM Studio). The summarizer and the yes/no classifier use
// this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends the request and returns the assistant's response.
	// An empty Request.Model uses the engine's default model.
	Chat(ctx context.Context, req Request) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// Backend names the implementation ("ollama", "openai").
	Backend() string

	// Model returns the default model.
	Model() string
}

// Puller is implemented by engines that can download models on demand.
type Puller interface {
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
