package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/interviewd/internal/engine"
)

const llmPingTimeout = 8 * time.Second

func handleLLMPing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Engine == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "no llm backend configured"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), llmPingTimeout)
		defer cancel()

		models, err := deps.Engine.ListModels(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if models == nil {
			models = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"backend": deps.Engine.Backend(),
			"model":   deps.Engine.Model(),
			"models":  models,
		})
	}
}

// handleLLMTest sends a one-line prompt to the gateway and echoes the reply.
func handleLLMTest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Engine == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "no llm backend configured"})
			return
		}

		reply, err := deps.Engine.Chat(r.Context(), engine.Request{
			Messages: []engine.Message{
				{Role: "system", Content: "You are a connectivity check. Reply briefly."},
				{Role: "user", Content: "Reply with the single word: pong"},
			},
			Temperature: engine.Temperature(0),
			MaxTokens:   16,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "content": strings.TrimSpace(reply)})
	}
}

type yesNoRequest struct {
	Text string `json:"text"`
}

func handleYesNo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req yesNoRequest
		if err := decodeOptional(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		res := deps.Classifier.Classify(r.Context(), text)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"label":      res.Label,
			"confidence": res.Confidence,
		})
	}
}
