package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and its default model is
// available. A missing model is pulled when the engine supports it, with
// progress output written to w.
func EnsureReady(ctx context.Context, e Engine, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s inference server is not reachable; summaries will use the fallback until it is started", e.Backend())
	}

	model := e.Model()
	if model == "" || e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	p, ok := e.(Puller)
	if !ok {
		return fmt.Errorf("model %s is not loaded in the %s server", model, e.Backend())
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := p.PullModel(ctx, model, func(pp PullProgress) {
		if pp.Total > 0 {
			pct := float64(pp.Completed) / float64(pp.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", pp.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", pp.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
