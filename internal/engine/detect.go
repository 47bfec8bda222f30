package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend string // "openai" or "ollama"
	BaseURL string
	Model   string
	APIKey  string
}

// Detect returns the Engine for the configured backend.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "ollama":
		return NewOllamaEngine(cfg.BaseURL, cfg.Model), nil
	case "openai", "":
		return NewOpenAIEngine(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
