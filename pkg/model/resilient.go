package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

// Resilient guards an LLM with a timeout per attempt, bounded retry and a
// circuit breaker. Empty completions count as failures.
type Resilient struct {
	inner    LLM
	executor *resilience.Executor
}

func NewResilient(inner LLM, timeout time.Duration, cfg config.ResilienceConfig) *Resilient {
	return &Resilient{
		inner:    inner,
		executor: resilience.NewExecutor("llm:"+inner.Name(), timeout, cfg),
	}
}

func (r *Resilient) Name() string       { return r.inner.Name() }
func (r *Resilient) Provider() Provider { return r.inner.Provider() }
func (r *Resilient) Close() error       { return r.inner.Close() }

func (r *Resilient) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := observability.Tracer("github.com/kadirpekel/conclave/pkg/model").Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, r.inner.Name())))

	start := time.Now()
	resp, err := resilience.Call(ctx, r.executor, func(ctx context.Context) (*Response, error) {
		resp, err := r.inner.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(resp.Text) == "" {
			return nil, errors.New("empty completion")
		}
		return resp, nil
	})
	observability.GetGlobalMetrics().RecordLLM(ctx, r.inner.Name(), time.Since(start), err)
	observability.EndSpan(span, err)

	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return nil, genErr
		}
		return nil, &GenerationError{Model: r.inner.Name(), Message: "generation failed", Err: err}
	}
	return resp, nil
}
