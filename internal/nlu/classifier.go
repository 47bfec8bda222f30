// Package nlu classifies short candidate replies as yes, no or unclear.
package nlu

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kalambet/interviewd/internal/engine"
)

const classifyTimeout = 30 * time.Second

// Label values.
const (
	LabelYes     = "yes"
	LabelNo      = "no"
	LabelUnclear = "unclear"
)

// Result is the classification of one reply. Source is "llm" or "heuristic".
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"-"`
}

// Classifier asks the model first and falls back to keyword matching.
type Classifier struct {
	engine  engine.Engine
	timeout time.Duration
}

// NewClassifier creates a Classifier. e may be nil, in which case only the
// heuristic is used.
func NewClassifier(e engine.Engine) *Classifier {
	return &Classifier{engine: e, timeout: classifyTimeout}
}

// Classify never fails: model errors, timeouts and malformed replies all
// fall through to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	if c.engine != nil {
		if res, ok := c.classifyLLM(ctx, text); ok {
			return res
		}
	}
	return Heuristic(text)
}

func (c *Classifier) classifyLLM(ctx context.Context, text string) (Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.engine.Chat(ctx, engine.Request{
		Messages:    BuildPrompt(text),
		Temperature: engine.Temperature(0),
		MaxTokens:   200,
		Schema:      yesNoSchema(),
	})
	if err != nil {
		slog.Warn("yes/no classification chat failed", "error", err)
		return Result{}, false
	}

	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(engine.StripFences(raw)), &parsed); err != nil || parsed.Label == "" {
		slog.Warn("failed to unmarshal yes/no label from LLM response", "error", err, "response", raw)
		return Result{}, false
	}

	label := strings.ToLower(strings.TrimSpace(parsed.Label))
	if label != LabelYes && label != LabelNo {
		label = LabelUnclear
	}
	conf := parsed.Confidence
	if math.IsNaN(conf) {
		conf = 0
	}
	return Result{Label: label, Confidence: math.Max(0, math.Min(1, conf)), Source: "llm"}, true
}

func yesNoSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"label":      {Type: "string", Enum: []string{LabelYes, LabelNo, LabelUnclear}},
			"confidence": {Type: "number", Description: "Confidence between 0 and 1"},
		},
		Required: []string{"label", "confidence"},
	}
}
