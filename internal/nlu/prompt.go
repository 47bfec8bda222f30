package nlu

import (
	"fmt"
	"strings"

	"github.com/kalambet/interviewd/internal/engine"
)

const systemPrompt = `You are a precise intent classifier. Given a short user reply, classify it as yes, no, or unclear. Output STRICT JSON with fields: label ("yes"|"no"|"unclear"), confidence (0-1).`

// BuildPrompt constructs the chat messages for classifying text.
func BuildPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Classify the intent of the following reply strictly into yes/no/unclear. Return JSON only.\nReply: %q", text)},
	}
}

var affirmative = []string{
	"yes", "y", "yep", "yeah", "yah", "ya", "yup", "sure", "definitely", "of course",
	"absolutely", "certainly", "correct", "right", "ok", "okay", "k", "mmhmm", "mhm",
	"uh-huh", "affirmative", "interested", "count me in", "sounds good", "proceed",
	"go ahead", "let's do it", "indeed", "aye", "si", "alright", "all right", "roger",
	"10-4", "positive", "keen",
}

var negative = []string{
	"no", "n", "nope", "nah", "nay", "not really", "don't", "do not", "no thanks",
	"not interested", "negative", "pass", "skip", "rather not", "not now",
	"maybe later", "i'm fine", "i am fine", "not today", "decline", "hard pass", "no way",
}

// Heuristic labels text by substring matching against affirmative and
// negative phrases. Text matching both lists, or neither, is unclear.
func Heuristic(text string) Result {
	lower := strings.ToLower(text)
	yes := containsAny(lower, affirmative)
	no := containsAny(lower, negative)

	res := Result{Label: LabelUnclear, Confidence: 0.5, Source: "heuristic"}
	switch {
	case yes && !no:
		res.Label, res.Confidence = LabelYes, 0.9
	case no && !yes:
		res.Label, res.Confidence = LabelNo, 0.9
	}
	return res
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
