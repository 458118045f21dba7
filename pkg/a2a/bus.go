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

package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/registry"
)

// DefaultHistoryLimit bounds the history when none is configured.
const DefaultHistoryLimit = 100

// Stats summarizes bus traffic.
type Stats struct {
	Sent          int64            `json:"sent"`
	Responses     int64            `json:"responses"`
	Errors        int64            `json:"errors"`
	Pending       int64            `json:"pending"`
	TotalMessages int              `json:"total_messages"`
	PerAgent      map[string]int64 `json:"per_agent"`
	Agents        []string         `json:"agents"`
}

// Bus routes requests to registered agents and returns their replies
// synchronously.
type Bus struct {
	agents *registry.BaseRegistry[Agent]

	mu           sync.Mutex
	history      []*Message
	historyLimit int
	sent         int64
	responses    int64
	errors       int64
	pending      int64
	perAgent     map[string]int64
}

func NewBus(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Bus{
		agents:       registry.NewBaseRegistry[Agent](),
		historyLimit: historyLimit,
		perAgent:     make(map[string]int64),
	}
}

// Register adds agent under its id.
func (b *Bus) Register(agent Agent) error {
	if err := b.agents.Register(agent.AgentID(), agent); err != nil {
		return fmt.Errorf("failed to register agent %q: %w", agent.AgentID(), err)
	}
	slog.Debug("Registered A2A agent", "agent", agent.AgentID())
	return nil
}

// Agents lists registered agent ids in registration order.
func (b *Bus) Agents() []string {
	return b.agents.Names()
}

// Request builds a request envelope and sends it.
func (b *Bus) Request(ctx context.Context, sender, recipient, action string, params map[string]any) (*Message, error) {
	return b.Send(ctx, NewRequest(sender, recipient, action, params))
}

// Send delivers req to its recipient and returns the reply. The error is
// non-nil only when the message could not be delivered; handler failures
// come back as unsuccessful responses.
func (b *Bus) Send(ctx context.Context, req *Message) (resp *Message, err error) {
	if err := req.Validate(); err != nil {
		b.reject(req)
		return nil, err
	}

	agent, ok := b.agents.Get(req.Recipient)
	if !ok {
		b.reject(req)
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, req.Recipient)
	}

	ctx, span := observability.Tracer("conclave/a2a").Start(ctx, observability.SpanA2ASend,
		trace.WithAttributes(
			attribute.String(observability.AttrA2AAction, req.Action),
			attribute.String(observability.AttrA2ATarget, req.Recipient),
		))

	b.begin(req)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("A2A agent panicked", "agent", req.Recipient, "action", req.Action, "panic", r)
			resp = NewResponse(req, req.Recipient, nil, fmt.Errorf("agent %s failed: %v", req.Recipient, r))
		}
		b.finish(resp)
		var spanErr error
		if !resp.Succeeded() {
			spanErr = fmt.Errorf("%s", resp.ErrorMessage())
		}
		observability.EndSpan(span, spanErr)
	}()

	result, herr := agent.Handle(ctx, req)
	if herr != nil {
		slog.Debug("A2A handler returned error", "agent", req.Recipient, "action", req.Action, "error", herr)
	}
	return NewResponse(req, agent.AgentID(), result, herr), nil
}

func (b *Bus) begin(req *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent++
	b.pending++
	b.perAgent[req.Recipient]++
	b.appendHistory(req)
}

func (b *Bus) finish(resp *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	b.responses++
	if !resp.Succeeded() {
		b.errors++
	}
	b.appendHistory(resp)
}

// reject counts a request that never reached an agent.
func (b *Bus) reject(req *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent++
	b.errors++
	if req != nil {
		b.appendHistory(req)
	}
}

func (b *Bus) appendHistory(m *Message) {
	b.history = append(b.history, m)
	if over := len(b.history) - b.historyLimit; over > 0 {
		b.history = append([]*Message(nil), b.history[over:]...)
	}
}

// History returns up to limit of the most recent messages, oldest first.
// limit <= 0 returns everything retained.
func (b *Bus) History(limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	return append([]*Message(nil), b.history[start:]...)
}

// ClearHistory drops retained messages. Counters are kept.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	per := make(map[string]int64, len(b.perAgent))
	for k, v := range b.perAgent {
		per[k] = v
	}
	return Stats{
		Sent:          b.sent,
		Responses:     b.responses,
		Errors:        b.errors,
		Pending:       b.pending,
		TotalMessages: len(b.history),
		PerAgent:      per,
		Agents:        b.agents.Names(),
	}
}
