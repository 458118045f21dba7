// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resilience bounds external calls with a per-attempt timeout,
// exponential retry and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kadirpekel/conclave/pkg/config"
)

// Policy describes how one class of external call is guarded.
type Policy struct {
	Name           string
	Timeout        time.Duration
	MaxTries       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Executor runs calls under a Policy and a shared Breaker.
type Executor struct {
	policy  Policy
	breaker *Breaker
}

// NewExecutor builds an executor from the shared resilience settings.
// timeout bounds each attempt; zero leaves attempts unbounded.
func NewExecutor(name string, timeout time.Duration, cfg config.ResilienceConfig) *Executor {
	cfg.SetDefaults()
	return &Executor{
		policy: Policy{
			Name:           name,
			Timeout:        timeout,
			MaxTries:       cfg.MaxTries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		breaker: NewBreaker(name, cfg.BreakerFailures, cfg.BreakerCooldown),
	}
}

// NewExecutorWithPolicy is NewExecutor with an explicit policy and breaker.
func NewExecutorWithPolicy(p Policy, b *Breaker) *Executor {
	if p.MaxTries < 1 {
		p.MaxTries = 1
	}
	return &Executor{policy: p, breaker: b}
}

func (e *Executor) Breaker() *Breaker { return e.breaker }

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx is done.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	if e.policy.InitialBackoff > 0 {
		exp.InitialInterval = e.policy.InitialBackoff
	}
	if e.policy.MaxBackoff > 0 {
		exp.MaxInterval = e.policy.MaxBackoff
	}

	operation := func() (T, error) {
		var zero T

		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		if e.breaker != nil {
			if err := e.breaker.Allow(); err != nil {
				return zero, backoff.Permanent(err)
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if e.policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		}
		v, err := fn(attemptCtx)
		cancel()

		if e.breaker != nil {
			e.breaker.Record(breakerOutcome(err))
		}
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, backoff.Permanent(ctx.Err())
		}
		if !IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(e.policy.MaxTries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("Retrying external call", "call", e.policy.Name, "delay", d, "error", err)
		}),
	)
}

// breakerOutcome keeps caller mistakes, such as a 400, from tripping the
// breaker.
func breakerOutcome(err error) error {
	if err == nil || !IsRetryable(err) {
		return nil
	}
	return err
}

type retryable interface {
	IsRetryable() bool
}

type permanent struct{ err error }

func (p *permanent) Error() string     { return p.err.Error() }
func (p *permanent) Unwrap() error     { return p.err }
func (p *permanent) IsRetryable() bool { return false }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsRetryable classifies err. Errors implementing IsRetryable decide for
// themselves and cancellation never retries. Anything else, timeouts and
// network failures included, is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
