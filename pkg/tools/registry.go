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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/registry"
)

// ToolRegistry is the tool catalog of one role. It is frozen once built.
type ToolRegistry struct {
	*registry.BaseRegistry[Tool]
}

func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
	for _, t := range tools {
		if err := r.Register(t.GetName(), t); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", t.GetName(), err)
		}
	}
	r.Freeze()
	return r, nil
}

// Infos returns the contracts of every tool in registration order.
func (r *ToolRegistry) Infos() []ToolInfo {
	tools := r.List()
	out := make([]ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = t.GetInfo()
	}
	return out
}

// Validate checks that name is a registered tool and args satisfy its
// parameter contract.
func (r *ToolRegistry) Validate(name string, args map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s (available: %s)", ErrUnknownTool, name, strings.Join(r.Names(), ", "))
	}
	return validateArgs(t.GetInfo(), args)
}

// Execute dispatches one call. The error is a *ToolExecutionError, or
// wraps ErrUnknownTool.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return ToolResult{ToolName: name, Error: err.Error()}, err
	}

	ctx, span := observability.Tracer("conclave/tools").Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)))

	start := time.Now()
	res, err := t.Execute(ctx, args)
	res.ExecutionTime = time.Since(start)

	observability.EndSpan(span, err)
	observability.GetGlobalMetrics().RecordTool(ctx, name, res.ExecutionTime, err)
	if err != nil {
		slog.Debug("Tool call failed", "tool", name, "error", err)
	}
	return res, err
}

// Describe renders the tool section of a prompt.
func (r *ToolRegistry) Describe() string {
	var b strings.Builder
	for _, info := range r.Infos() {
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
		for _, p := range info.Parameters {
			fmt.Fprintf(&b, "    - %s (%s", p.Name, p.Type)
			if p.Required {
				b.WriteString(", required")
			}
			b.WriteString(")")
			if p.Description != "" {
				b.WriteString(": " + p.Description)
			}
			if len(p.Enum) > 0 {
				b.WriteString(" [one of: " + strings.Join(p.Enum, ", ") + "]")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
