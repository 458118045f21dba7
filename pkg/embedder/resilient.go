package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

// Resilient guards an Embedder with a timeout per attempt, bounded retry
// and a circuit breaker. Every failure comes back as an
// *EmbeddingGenerationError, and vectors of the wrong width are rejected.
type Resilient struct {
	inner    Embedder
	executor *resilience.Executor
}

func NewResilient(inner Embedder, timeout time.Duration, cfg config.ResilienceConfig) *Resilient {
	return &Resilient{
		inner:    inner,
		executor: resilience.NewExecutor("embed:"+inner.Model(), timeout, cfg),
	}
}

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, "embed", text, r.inner.Embed)
}

func (r *Resilient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, "embed_query", text, r.inner.EmbedQuery)
}

func (r *Resilient) call(ctx context.Context, op, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingGenerationError("embedder", op, "cannot embed empty text", nil)
	}

	start := time.Now()
	vec, err := resilience.Call(ctx, r.executor, func(ctx context.Context) ([]float32, error) {
		return fn(ctx, text)
	})
	if err == nil && len(vec) != r.inner.Dimension() {
		err = fmt.Errorf("expected %d dimensions, got %d", r.inner.Dimension(), len(vec))
	}
	observability.GetGlobalMetrics().RecordEmbedding(ctx, r.inner.Model(), time.Since(start), err)

	if err != nil {
		var genErr *EmbeddingGenerationError
		if errors.As(err, &genErr) {
			return nil, genErr
		}
		return nil, NewEmbeddingGenerationError(r.inner.Model(), op, "embedding generation failed", err)
	}
	return vec, nil
}

func (r *Resilient) Dimension() int { return r.inner.Dimension() }
func (r *Resilient) Model() string  { return r.inner.Model() }
func (r *Resilient) Close() error   { return r.inner.Close() }
