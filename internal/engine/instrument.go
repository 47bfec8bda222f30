package engine

import (
	"context"
	"time"
)

// Observer records the outcome of each chat call.
type Observer interface {
	ObserveLLMCall(backend, outcome string, d time.Duration)
}

type instrumented struct {
	Engine
	obs Observer
}

// Instrument wraps e so that every Chat call is reported to obs with
// outcome "ok", "error" or "timeout".
func Instrument(e Engine, obs Observer) Engine {
	if obs == nil {
		return e
	}
	return &instrumented{Engine: e, obs: obs}
}

func (i *instrumented) Chat(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := i.Engine.Chat(ctx, req)
	outcome := "ok"
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	i.obs.ObserveLLMCall(i.Engine.Backend(), outcome, time.Since(start))
	return out, err
}
