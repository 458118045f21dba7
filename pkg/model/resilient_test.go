package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

type scripted struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scripted) Name() string       { return "scripted" }
func (s *scripted) Provider() Provider { return ProviderOllama }
func (s *scripted) Close() error       { return nil }

func (s *scripted) Generate(ctx context.Context, req *Request) (*Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.replies) {
		return &Response{Text: s.replies[i]}, nil
	}
	return &Response{Text: ""}, nil
}

func testResilience() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxTries:        3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		BreakerFailures: 10,
		BreakerCooldown: time.Second,
	}
}

func TestResilient_RetriesEmptyCompletion(t *testing.T) {
	inner := &scripted{replies: []string{"", "  ", "answer"}}
	r := NewResilient(inner, time.Second, testResilience())

	resp, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestResilient_PermanentErrorStops(t *testing.T) {
	inner := &scripted{errs: []error{resilience.Permanent(errors.New("invalid api key"))}}
	r := NewResilient(inner, time.Second, testResilience())

	_, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "scripted", genErr.Model)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, 1, inner.calls)
}

func TestRequestOverrides(t *testing.T) {
	fallback := 0.2
	override := 0.9

	req := &Request{}
	assert.Equal(t, &fallback, req.Temperature(&fallback))
	assert.Equal(t, 100, req.MaxTokens(100))

	req.Config = &GenerateConfig{Temperature: &override, MaxTokens: 10}
	assert.Equal(t, 0.9, *req.Temperature(&fallback))
	assert.Equal(t, 10, req.MaxTokens(100))
}
