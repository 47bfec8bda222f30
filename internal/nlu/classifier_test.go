package nlu

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/interviewd/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	response string
	err      error
	delay    time.Duration
	lastReq  engine.Request
}

func (m *mockEngine) Chat(ctx context.Context, req engine.Request) (string, error) {
	m.lastReq = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func (m *mockEngine) IsRunning(context.Context) bool               { return true }
func (m *mockEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(context.Context, string) bool        { return true }
func (m *mockEngine) Backend() string                              { return "mock" }
func (m *mockEngine) Model() string                                { return "mock" }

func TestClassify_LLMYes(t *testing.T) {
	mock := &mockEngine{response: `{"label":"YES","confidence":0.97}`}
	got := NewClassifier(mock).Classify(context.Background(), "absolutely")

	if got.Label != LabelYes || got.Confidence != 0.97 || got.Source != "llm" {
		t.Errorf("Classify() = %+v", got)
	}
	if mock.lastReq.MaxTokens != 200 {
		t.Errorf("MaxTokens = %d, want 200", mock.lastReq.MaxTokens)
	}
	if mock.lastReq.Temperature == nil || *mock.lastReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", mock.lastReq.Temperature)
	}
	if mock.lastReq.Schema == nil {
		t.Error("expected a JSON schema on the request")
	}
}

func TestClassify_LLMFencedAndClamped(t *testing.T) {
	mock := &mockEngine{response: "```json\n{\"label\":\"no\",\"confidence\":7}\n```"}
	got := NewClassifier(mock).Classify(context.Background(), "nah")

	if got.Label != LabelNo || got.Confidence != 1 {
		t.Errorf("Classify() = %+v, want no/1", got)
	}
}

func TestClassify_LLMUnknownLabel(t *testing.T) {
	mock := &mockEngine{response: `{"label":"maybe","confidence":-0.3}`}
	got := NewClassifier(mock).Classify(context.Background(), "perhaps")

	if got.Label != LabelUnclear || got.Confidence != 0 {
		t.Errorf("Classify() = %+v, want unclear/0", got)
	}
}

func TestClassify_MalformedFallsBack(t *testing.T) {
	mock := &mockEngine{response: `not valid json {{{`}
	got := NewClassifier(mock).Classify(context.Background(), "yes please")

	if got.Source != "heuristic" || got.Label != LabelYes {
		t.Errorf("Classify() = %+v, want heuristic yes", got)
	}
}

func TestClassify_ErrorFallsBack(t *testing.T) {
	mock := &mockEngine{err: errors.New("connection refused")}
	got := NewClassifier(mock).Classify(context.Background(), "nope")

	if got.Label != LabelNo || got.Confidence != 0.9 {
		t.Errorf("Classify() = %+v, want no/0.9", got)
	}
}

func TestClassify_Timeout(t *testing.T) {
	mock := &mockEngine{response: `{"label":"yes","confidence":1}`, delay: 5 * time.Second}
	c := NewClassifier(mock)
	c.timeout = 20 * time.Millisecond

	start := time.Now()
	got := c.Classify(context.Background(), "hmm")
	if time.Since(start) > time.Second {
		t.Error("Classify did not respect its timeout")
	}
	if got.Source != "heuristic" || got.Label != LabelUnclear {
		t.Errorf("Classify() = %+v, want heuristic unclear", got)
	}
}

func TestClassify_NilEngine(t *testing.T) {
	got := NewClassifier(nil).Classify(context.Background(), "okay")
	if got.Label != LabelYes {
		t.Errorf("Classify() = %+v, want yes", got)
	}
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		text string
		want string
		conf float64
	}{
		{"Yes please", LabelYes, 0.9},
		{"yup", LabelYes, 0.9},
		{"nope", LabelNo, 0.9},
		{"hmm", LabelUnclear, 0.5},
		{"yes and no", LabelUnclear, 0.5},
		{"", LabelUnclear, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Heuristic(tt.text)
			if got.Label != tt.want || got.Confidence != tt.conf {
				t.Errorf("Heuristic(%q) = %+v, want %s/%v", tt.text, got, tt.want, tt.conf)
			}
		})
	}
}

func TestPromptQuotesReply(t *testing.T) {
	msgs := BuildPrompt(`say "yes"`)
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "STRICT JSON") {
		t.Error("system prompt lost its output contract")
	}
	if !strings.Contains(msgs[1].Content, `Reply: "say \"yes\""`) {
		t.Errorf("user prompt = %q", msgs[1].Content)
	}
}
