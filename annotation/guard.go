package annotation

import (
	"context"
	"fmt"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

// Guard bounds a Provider by a per-call timeout. It returns as soon as the
// deadline passes even if the wrapped provider ignores its context.
type Guard struct {
	next    Provider
	timeout time.Duration
	logger  core.Logger
}

// NewGuard wraps next. A non-positive timeout defaults to two seconds.
func NewGuard(next Provider, timeout time.Duration, logger core.Logger) *Guard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Guard{next: next, timeout: timeout, logger: logger}
}

type annotateResult struct {
	insights Insights
	err      error
}

// Annotate calls the wrapped provider. On timeout, error or panic it returns
// empty insights and an error wrapping core.ErrAnnotationUnavailable.
func (g *Guard) Annotate(ctx context.Context, req Request) (Insights, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan annotateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- annotateResult{err: fmt.Errorf("annotation provider panic: %v", r)}
			}
		}()
		insights, err := g.next.Annotate(ctx, req)
		done <- annotateResult{insights: insights, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.logger.Debug("Annotation unavailable, using defaults", map[string]interface{}{
				"operation": "annotation_guard",
				"subject":   string(req.Subject),
				"error":     res.err.Error(),
			})
			return Insights{}, fmt.Errorf("%w: %w", core.ErrAnnotationUnavailable, res.err)
		}
		return res.insights, nil
	case <-ctx.Done():
		g.logger.Debug("Annotation timed out, using defaults", map[string]interface{}{
			"operation":  "annotation_guard",
			"subject":    string(req.Subject),
			"timeout_ms": g.timeout.Milliseconds(),
		})
		return Insights{}, fmt.Errorf("annotation after %s: %w", g.timeout, core.ErrAnnotationUnavailable)
	}
}

// FromConfig builds the provider chain for cfg: a guarded, cached OpenAI
// provider when annotation is enabled, otherwise NoOp.
func FromConfig(cfg core.AnnotationConfig, logger core.Logger, telemetry core.Telemetry) Provider {
	if !cfg.Enabled {
		return NoOp{}
	}
	var p Provider = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model,
		WithProviderLogger(logger), WithProviderTelemetry(telemetry))
	if cfg.CacheTTL > 0 {
		p = NewCached(p, cfg.CacheTTL)
	}
	return NewGuard(p, cfg.Timeout, logger)
}
