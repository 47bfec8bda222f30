package resume

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/interviewd/internal/engine"
)

const (
	// DefaultTimeout bounds a single summarization call.
	DefaultTimeout = 5 * time.Minute

	fallbackLimit      = 400
	placeholderSummary = "Resume submitted. Summary unavailable."
	summaryTemperature = 0.2
	systemPrompt       = "You are an expert resume summarizer. Output a concise paragraph (60-120 words) summarizing the candidate profile. No markdown."
	userPromptPreamble = "Summarize the following resume text. Focus on years of experience, key skills/technologies, notable roles/achievements, and education if present. Avoid bullet points and keep it objective."
)

// Summary is the outcome of one summarization. Fallback is true when the
// text was produced by local compaction rather than the model.
type Summary struct {
	Text     string
	Fallback bool
}

// FallbackRecorder is notified every time the model could not be used.
type FallbackRecorder interface {
	ObserveSummaryFallback(reason string)
}

// Summarizer turns extracted resume text into a short profile paragraph.
type Summarizer struct {
	engine  engine.Engine
	timeout time.Duration
	rec     FallbackRecorder
}

// NewSummarizer creates a Summarizer. A zero timeout uses DefaultTimeout;
// rec may be nil.
func NewSummarizer(e engine.Engine, timeout time.Duration, rec FallbackRecorder) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Summarizer{engine: e, timeout: timeout, rec: rec}
}

// Summarize never fails: when the model is unreachable, slow or returns
// nothing usable, the text is compacted locally instead.
func (s *Summarizer) Summarize(ctx context.Context, text string) Summary {
	if s.engine == nil {
		return s.fallback(text, "no_engine")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.engine.Chat(ctx, engine.Request{
		Messages:    BuildPrompt(text),
		Temperature: engine.Temperature(summaryTemperature),
	})
	if err != nil {
		slog.Warn("resume summary chat failed, using fallback", "error", err)
		return s.fallback(text, "error")
	}

	out := engine.StripFences(raw)
	if out == "" {
		slog.Warn("resume summary was empty, using fallback")
		return s.fallback(text, "empty")
	}
	return Summary{Text: out}
}

func (s *Summarizer) fallback(text, reason string) Summary {
	if s.rec != nil {
		s.rec.ObserveSummaryFallback(reason)
	}
	return Summary{Text: Compact(text), Fallback: true}
}

// BuildPrompt returns the chat messages for summarizing text.
func BuildPrompt(text string) []engine.Message {
	var sb strings.Builder
	sb.WriteString(userPromptPreamble)
	sb.WriteString("\n\nRESUME TEXT START\n")
	sb.WriteString(text)
	sb.WriteString("\nRESUME TEXT END")

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// Compact collapses whitespace and truncates to 400 characters, adding an
// ellipsis when text was cut. Empty input yields a fixed placeholder.
func Compact(text string) string {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return placeholderSummary
	}
	runes := []rune(clean)
	if len(runes) <= fallbackLimit {
		return clean
	}
	return string(runes[:fallbackLimit]) + "…"
}
